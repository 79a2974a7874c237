package igis

import "context"

// RefPair names one requested push: (src, dst) are the local and remote
// ref names (spec §6). Fetches are named by FetchRef instead.
type RefPair struct {
	Src string
	Dst string
}

// FetchRef names one ref to materialize locally from the remote (spec §6
// `doFetch([(hash, ref), ...])`).
type FetchRef struct {
	CID CID
	Ref string
}

// Monitor carries optional progress notifications out of a long-running
// push or fetch, mirroring the teacher's own `rio.Monitor`/`Event` union
// (`api/rio/rioCmds.go`). A nil Chan disables reporting.
type Monitor struct {
	Chan chan<- Event
}

// Event is the union of progress and result notifications a Monitor may
// receive. DoPush and DoFetch send one Progress event and one Result
// event per ref as they process that ref's outcome; the caller also gets
// the results as a function return.
type Event struct {
	Progress *EventProgress
	Result   *EventResult
}

// EventProgress describes incremental progress of a push or fetch, e.g.
// "Phase: push, Desc: refs/heads/master, 1/2 refs".
type EventProgress struct {
	Phase, Desc          string
	TotalProg, TotalWork int
}

// EventResult is the terminal event for one ref within a batch.
type EventResult struct {
	Ref   string
	CID   CID
	Error error
}

func emit(m *Monitor, e Event) {
	if m == nil || m.Chan == nil {
		return
	}
	select {
	case m.Chan <- e:
	default:
	}
}

func emitProgress(m *Monitor, phase, desc string, prog, total int) {
	emit(m, Event{Progress: &EventProgress{Phase: phase, Desc: desc, TotalProg: prog, TotalWork: total}})
}

// PushFunc pushes the OID a source ref resolves to and returns the CID it
// was translated to (spec §2 push data flow, driving the Commit
// Serializer; tag refs go through TagPushFunc instead).
type PushFunc func(ctx context.Context, oid OID, monitor *Monitor) (CID, error)

// FetchFunc reconstructs a local OID from a remote CID (spec §2 fetch data
// flow, driving the Commit or Tag Deserializer).
type FetchFunc func(ctx context.Context, cid CID, monitor *Monitor) (OID, error)
