package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strings"
)

// checkHTTPEndpoint issues a GET with the check's timeout already applied
// to ctx. A request cut off by the check's deadline produces timeout;
// other transport errors, including cancellation of ctx, produce error.
func (r *Runner) checkHTTPEndpoint(ctx context.Context, check Check, res *Result) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.URL, nil)
	if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Status = StatusTimeout
		} else {
			res.Status = StatusError
			res.Message = err.Error()
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if check.ExpectedStatusCode != 0 && resp.StatusCode != check.ExpectedStatusCode {
		res.Status = StatusUnhealthy
		res.Message = "unexpected status code"
		return
	}

	if check.ExpectedResponse != "" {
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), check.ExpectedResponse) {
			res.Status = StatusUnhealthy
			res.Message = "response body did not contain expected text"
			return
		}
	}
	res.Status = StatusHealthy
}

// checkCustomScript executes scriptPath with the configured args and
// working directory; healthy iff the exit code equals ExpectedExitCode.
func (r *Runner) checkCustomScript(ctx context.Context, check Check, res *Result) {
	cmd := exec.CommandContext(ctx, check.ScriptPath, check.ScriptArgs...) // #nosec G204 -- scriptPath is operator-configured, not user input
	if check.WorkingDirectory != "" {
		cmd.Dir = check.WorkingDirectory
	}

	err := cmd.Run()
	if ctx.Err() != nil {
		res.Status = StatusTimeout
		return
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		return
	}

	if exitCode == check.ExpectedExitCode {
		res.Status = StatusHealthy
	} else {
		res.Status = StatusUnhealthy
		res.Message = "unexpected exit code"
	}
}
