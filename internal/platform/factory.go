package platform

import (
	"fmt"
	"runtime"
)

// Selection is the configured adapter choice: "auto", "linux", "darwin",
// "windows", or "mock".
type Selection string

const (
	SelectionAuto    Selection = "auto"
	SelectionMock    Selection = "mock"
	SelectionLinux   Selection = "linux"
	SelectionDarwin  Selection = "darwin"
	SelectionWindows Selection = "windows"
)

// supportedHostOS reports whether the real adapter is expected to work on
// the running GOOS.
func supportedHostOS() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return true
	default:
		return false
	}
}

// New selects an adapter per the policy: explicit override > auto-detect >
// mock. An override of "mock" always yields a fresh, empty MockAdapter.
// "auto" uses the real adapter on a supported host OS and falls back to
// mock otherwise.
func New(selection Selection) Adapter {
	switch selection {
	case SelectionMock, SelectionLinux, SelectionDarwin, SelectionWindows:
		if selection == SelectionMock {
			return NewMockAdapter(nil)
		}
		return NewGopsutilAdapter()
	case SelectionAuto, "":
		if supportedHostOS() {
			return NewGopsutilAdapter()
		}
		return NewMockAdapter(nil)
	default:
		return NewMockAdapter(nil)
	}
}

// NewWithFallback applies the same selection policy but fails instead of
// silently degrading to mock when allowMock is false. Adapter init
// failure with the fallback disabled is the one fatal startup error the
// core defines.
func NewWithFallback(selection Selection, allowMock bool) (Adapter, error) {
	switch selection {
	case SelectionMock:
		if !allowMock {
			return nil, fmt.Errorf("platform adapter %q selected but mock fallback is disabled", selection)
		}
		return NewMockAdapter(nil), nil
	case SelectionLinux, SelectionDarwin, SelectionWindows:
		return NewGopsutilAdapter(), nil
	case SelectionAuto, "":
		if supportedHostOS() {
			return NewGopsutilAdapter(), nil
		}
		if !allowMock {
			return nil, fmt.Errorf("no platform adapter for %s and mock fallback is disabled", runtime.GOOS)
		}
		return NewMockAdapter(nil), nil
	default:
		return nil, fmt.Errorf("unknown platform adapter selection %q", selection)
	}
}
