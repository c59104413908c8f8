// Package progs holds the programs shipped with the machine. Each one is
// registered under its name and installed into storage as an executable
// image so it can be started with exec.
package progs

import (
	"context"
	"sort"

	"github.com/evanphx/nkern/boundary"
	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/loader"
	"github.com/pkg/errors"
)

// Pages is the address space given to every shipped program.
const Pages = 16

var programs = map[string]func(u *boundary.User) int32{
	"fdtest":   FDTest,
	"exectest": ExecTest,
	"cat":      Cat,
	"echo":     Echo,
	"halt":     Halt,
	"fault":    Fault,
}

// Names lists the shipped programs.
func Names() []string {
	var names []string

	for name := range programs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Register makes every shipped program available to the loader.
func Register(r *loader.Registry) {
	for name, fn := range programs {
		r.Register(name, boundary.Program(fn))
	}
}

// Install writes an image for every shipped program into store, named with
// suffix.
func Install(ctx context.Context, store fs.Store, suffix string) error {
	for name := range programs {
		err := fs.WriteFile(ctx, store, name+suffix, loader.Encode(name, Pages))
		if err != nil {
			return errors.Wrapf(err, "installing %s", name)
		}
	}

	return nil
}
