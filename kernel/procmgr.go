package kernel

import (
	"context"
	"sort"
	"sync"

	"github.com/evanphx/nkern/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ProcessManager is the process table. Pids are handed out in increasing
// order and never reused. A record stays in the table until it is reaped:
// joined by its parent, or discarded because no parent is left to join it.
type ProcessManager struct {
	mu        sync.RWMutex
	nextPid   int
	processes map[int]*Process

	live atomic.Int64
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		processes: make(map[int]*Process),
	}
}

// AssignPid gives proc the next pid, enters it in the table as Running and,
// when parent is non-nil, makes it one of parent's children.
func (pm *ProcessManager) AssignPid(proc *Process, parent *Process) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pid := pm.nextPid
	pm.nextPid++

	proc.Pid = pid
	proc.state = Running
	proc.parent = parent
	pm.processes[pid] = proc

	if parent != nil {
		parent.children[pid] = proc
	}

	pm.live.Inc()

	log.L.Trace("process-assign-pid", "pid", pid, "name", proc.Name)

	return pid
}

// abandon undoes AssignPid for a process that never got to run.
func (pm *ProcessManager) abandon(proc *Process) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if proc.parent != nil {
		delete(proc.parent.children, proc.Pid)
		proc.parent = nil
	}

	proc.state = Reaped
	delete(pm.processes, proc.Pid)

	pm.live.Dec()
}

func (pm *ProcessManager) Lookup(pid int) (*Process, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, ok := pm.processes[pid]
	return p, ok
}

// Len is the number of records in the table, zombies included.
func (pm *ProcessManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return len(pm.processes)
}

// Live is the number of processes that have not terminated.
func (pm *ProcessManager) Live() int {
	return int(pm.live.Load())
}

func (pm *ProcessManager) stateOf(p *Process) ProcessState {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return p.state
}

func (pm *ProcessManager) exitStatusOf(p *Process) ExitStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return p.exitStatus
}

func (pm *ProcessManager) childrenOf(p *Process) []int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	pids := make([]int, 0, len(p.children))
	for pid := range p.children {
		pids = append(pids, pid)
	}

	sort.Ints(pids)

	return pids
}

// reapLocked drops a terminated record from the table.
func (pm *ProcessManager) reapLocked(p *Process) {
	p.state = Reaped
	delete(pm.processes, p.Pid)

	log.L.Trace("process-reaped", "pid", p.Pid)
}

// exit moves p to Zombie. Its own zombie children can never be joined
// now, so they are reaped; its running children are cut loose and will be
// reaped as soon as they exit. If p itself has no parent it is reaped
// immediately. Returns the number of live processes left.
func (pm *ProcessManager) exit(p *Process, status ExitStatus) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p.state != Running {
		panic("process exited twice")
	}

	p.state = Zombie
	p.exitStatus = status

	for _, child := range p.children {
		child.parent = nil

		if child.state == Zombie {
			pm.reapLocked(child)
		}
	}

	p.children = make(map[int]*Process)

	if p.parent == nil {
		pm.reapLocked(p)
	}

	return int(pm.live.Dec())
}

// Join waits for child pid of parent to terminate and reaps it. It fails
// with ErrNotAChild unless pid is currently one of parent's unjoined
// children.
func (pm *ProcessManager) Join(ctx context.Context, parent *Process, pid int) (ExitStatus, error) {
	pm.mu.RLock()
	child, ok := parent.children[pid]
	pm.mu.RUnlock()

	if !ok {
		return ExitStatus{}, errors.Wrapf(ErrNotAChild, "pid %d is not a child of %d", pid, parent.Pid)
	}

	log.L.Trace("process-join-wait", "pid", parent.Pid, "child", pid)

	select {
	case <-child.exited:
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if parent.children[pid] != child {
		return ExitStatus{}, errors.Wrapf(ErrNotAChild, "pid %d was already joined", pid)
	}

	delete(parent.children, pid)
	child.parent = nil
	pm.reapLocked(child)

	log.L.Trace("process-joined", "pid", parent.Pid, "child", pid, "status", child.exitStatus)

	return child.exitStatus, nil
}

// ProcessInfo is a point-in-time view of one process record.
type ProcessInfo struct {
	Pid      int
	Parent   int
	Name     string
	State    string
	Children []int
	Files    []int
}

func (pm *ProcessManager) Snapshot() []ProcessInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var out []ProcessInfo

	for _, p := range pm.processes {
		info := ProcessInfo{
			Pid:    p.Pid,
			Parent: -1,
			Name:   p.Name,
			State:  p.state.String(),
			Files:  p.Files.InUse(),
		}

		if p.parent != nil {
			info.Parent = p.parent.Pid
		}

		for pid := range p.children {
			info.Children = append(info.Children, pid)
		}

		sort.Ints(info.Children)

		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Pid < out[j].Pid })

	return out
}
