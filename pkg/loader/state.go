package loader

import "fmt"

// State is a step of a load
type State int

const (
	StateIdle State = iota
	StateFetchingManifest
	StateManifestReady
	StateResolvingAssets
	StateAwaitingAssetDownloads
	StateFinalizing
	StateSucceeded
	StatePartiallyFailed
	StateFailed
	StateNoUpdate
)

var stateNames = map[State]string{
	StateIdle:                   "Idle",
	StateFetchingManifest:       "FetchingManifest",
	StateManifestReady:          "ManifestReady",
	StateResolvingAssets:        "ResolvingAssets",
	StateAwaitingAssetDownloads: "AwaitingAssetDownloads",
	StateFinalizing:             "Finalizing",
	StateSucceeded:              "Succeeded",
	StatePartiallyFailed:        "PartiallyFailed",
	StateFailed:                 "Failed",
	StateNoUpdate:               "NoUpdate",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further events are accepted
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StatePartiallyFailed, StateFailed, StateNoUpdate:
		return true
	}
	return false
}

type eventKind int

const (
	evStart eventKind = iota
	evManifestFetched
	evNotModified
	evParsed
	evResolved
	evAssetDone
	evCommitted
	evFail
)

// event drives machine.next. pending is used by evResolved; launch and ok by evAssetDone.
type event struct {
	kind    eventKind
	pending int
	launch  bool
	ok      bool
}

// machine is the loader's state plus its outstanding work. It holds no I/O.
type machine struct {
	state        State
	pending      int
	failed       int
	launchFailed bool
}

// next applies ev and returns the new machine. Illegal events leave the
// machine unchanged and return ErrInvalidState.
func (m machine) next(ev event) (machine, error) {
	if ev.kind == evFail {
		if m.state.Terminal() {
			return m, m.invalid(ev)
		}
		m.state = StateFailed
		return m, nil
	}

	switch m.state {
	case StateIdle:
		if ev.kind == evStart {
			m.state = StateFetchingManifest
			return m, nil
		}
	case StateFetchingManifest:
		switch ev.kind {
		case evManifestFetched:
			m.state = StateManifestReady
			return m, nil
		case evNotModified:
			m.state = StateNoUpdate
			return m, nil
		}
	case StateManifestReady:
		if ev.kind == evParsed {
			m.state = StateResolvingAssets
			return m, nil
		}
	case StateResolvingAssets:
		if ev.kind == evResolved && ev.pending >= 0 {
			m.pending = ev.pending
			if m.pending == 0 {
				m.state = StateFinalizing
			} else {
				m.state = StateAwaitingAssetDownloads
			}
			return m, nil
		}
	case StateAwaitingAssetDownloads:
		if ev.kind == evAssetDone && m.pending > 0 {
			m.pending--
			if !ev.ok {
				m.failed++
				if ev.launch {
					m.launchFailed = true
				}
			}
			if m.pending == 0 {
				if m.launchFailed {
					m.state = StateFailed
				} else {
					m.state = StateFinalizing
				}
			}
			return m, nil
		}
	case StateFinalizing:
		if ev.kind == evCommitted {
			if m.failed > 0 {
				m.state = StatePartiallyFailed
			} else {
				m.state = StateSucceeded
			}
			return m, nil
		}
	}
	return m, m.invalid(ev)
}

func (m machine) invalid(ev event) error {
	return fmt.Errorf("%w: event %d in state %s", ErrInvalidState, ev.kind, m.state)
}
