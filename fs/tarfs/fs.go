package tarfs

import (
	"archive/tar"
	"context"
	"io"
	"io/ioutil"
	"path"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/log"
	"github.com/pkg/errors"
)

type entry struct {
	hdr  *tar.Header
	name string
	body []byte
}

func (e *entry) String() string {
	return spew.Sdump(e.hdr)
}

// storeName flattens a tar member name into a Store name. Directories and
// the archive root map to "".
func storeName(name string) string {
	if len(name) > 2 && name[:2] == "./" {
		name = name[2:]
	}

	name = strings.TrimPrefix(name, "/")

	if name == "" || name == "." || strings.HasSuffix(name, "/") {
		return ""
	}

	return path.Base(name)
}

// Load copies every regular file of a tar stream into dst and returns how
// many files were written. Members in subdirectories land under their base
// name; a later member overwrites an earlier one of the same name.
func Load(ctx context.Context, r io.Reader, dst fs.Store) (int, error) {
	tr := tar.NewReader(r)

	var count int

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return count, err
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		data, err := ioutil.ReadAll(tr)
		if err != nil {
			return count, err
		}

		e := &entry{hdr: hdr, name: storeName(hdr.Name), body: data}

		if e.name == "" || !fs.ValidName(e.name) {
			log.L.Trace("tarfs-skip", "name", hdr.Name)
			continue
		}

		log.L.Trace("tarfs-entry", "name", e.name, "size", len(e.body), "header", e)

		err = install(ctx, dst, e)
		if err != nil {
			return count, errors.Wrapf(err, "installing %s", hdr.Name)
		}

		count++
	}

	return count, nil
}

func install(ctx context.Context, dst fs.Store, e *entry) error {
	if _, err := dst.Stat(ctx, e.name); err == nil {
		err = dst.Delete(ctx, e.name)
		if err != nil {
			return err
		}
	}

	return fs.WriteFile(ctx, dst, e.name, e.body)
}
