package sandbox

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"modernc.org/quickjs"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/types"
)

// consoleShimJS routes console output through the registered Go callback so
// each invocation's logs can be handed to the observability sink.
const consoleShimJS = `
(function() {
	function fmtArgs(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			var a = args[i];
			if (typeof a === 'string') { parts.push(a); }
			else if (a instanceof Error) { parts.push(a.stack || String(a)); }
			else { try { parts.push(JSON.stringify(a)); } catch (e) { parts.push(String(a)); } }
		}
		return parts.join(' ');
	}
	globalThis.console = {
		log:   function() { __orbit_log('log',   fmtArgs(arguments)); },
		info:  function() { __orbit_log('info',  fmtArgs(arguments)); },
		warn:  function() { __orbit_log('warn',  fmtArgs(arguments)); },
		error: function() { __orbit_log('error', fmtArgs(arguments)); },
		debug: function() { __orbit_log('debug', fmtArgs(arguments)); }
	};
})();
`

// invokeJS calls the deployment's fetch handler and records settlement in
// globals the Go side can poll while pumping microtasks.
const invokeJS = `
(function() {
	var mod = globalThis.__orbit_module__;
	if (!mod || typeof mod.fetch !== 'function') {
		throw new Error('deployment module has no fetch handler');
	}
	globalThis.__orbit_settled = false;
	globalThis.__orbit_error = undefined;
	globalThis.__orbit_result = undefined;
	Promise.resolve()
		.then(function() {
			return mod.fetch(globalThis.__orbit_req, globalThis.__orbit_env, {});
		})
		.then(function(v) {
			globalThis.__orbit_result = v;
			globalThis.__orbit_settled = true;
		}, function(e) {
			globalThis.__orbit_error = (e && e.stack) ? String(e.stack) : String(e);
			globalThis.__orbit_settled = true;
		});
})();
`

// normalizeJS converts whatever the fetch handler returned into the
// {status, headers, body} shape the engine hands back to the transport.
const normalizeJS = `
(function() {
	var r = globalThis.__orbit_result;
	var out = { status: 200, headers: {}, body: "" };
	if (r === null || r === undefined) {
		out.status = 204;
	} else if (typeof r === 'string') {
		out.body = r;
	} else if (typeof r === 'object') {
		if (typeof r.status === 'number') { out.status = r.status; }
		if (r.headers && typeof r.headers === 'object') {
			for (var k in r.headers) { out.headers[k] = String(r.headers[k]); }
		}
		if (r.body === undefined || r.body === null) {
			out.body = "";
		} else if (typeof r.body === 'string') {
			out.body = r.body;
		} else {
			out.body = JSON.stringify(r.body);
			if (!out.headers['content-type']) { out.headers['content-type'] = 'application/json'; }
		}
	} else {
		out.body = String(r);
	}
	return JSON.stringify(out);
})();
`

// cleanupJS removes per-invocation globals before the next call.
const cleanupJS = `
(function() {
	var perRequest = ['__orbit_req', '__orbit_result', '__orbit_error', '__orbit_settled'];
	for (var i = 0; i < perRequest.length; i++) {
		try { delete globalThis[perRequest[i]]; } catch (e) {}
	}
})();
`

// QuickJSSandbox runs one deployment bundle inside a QuickJS VM. It is not
// safe for concurrent Invoke calls; the execution context serializes them.
type QuickJSSandbox struct {
	vm       *quickjs.VM
	logs     []types.ConsoleLine
	closed   bool
	poisoned atomic.Bool
}

var _ Sandbox = (*QuickJSSandbox)(nil)

// NewQuickJS constructs a sandbox for the given bundle: creates the VM,
// applies the memory cap, installs the console bridge and environment
// bindings, and evaluates the wrapped module. This is the cold-start cost.
func NewQuickJS(opts Options) (Sandbox, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, errors.ErrSandboxInit.WithCause(err)
	}

	if opts.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(opts.MemoryLimitMB) * 1024 * 1024)
	}

	s := &QuickJSSandbox{vm: vm}

	if err := vm.RegisterFunc("__orbit_log", func(level, message string) {
		s.logs = append(s.logs, types.ConsoleLine{
			Level:   level,
			Message: message,
			Time:    time.Now(),
		})
	}, false); err != nil {
		vm.Close()
		return nil, errors.ErrSandboxInit.WithCause(fmt.Errorf("registering console bridge: %w", err))
	}

	if err := s.eval(consoleShimJS); err != nil {
		vm.Close()
		return nil, errors.ErrSandboxInit.WithCause(fmt.Errorf("installing console shim: %w", err))
	}

	envJSON, err := json.Marshal(opts.Environment)
	if err != nil {
		vm.Close()
		return nil, errors.ErrSandboxInit.WithCause(fmt.Errorf("marshaling environment: %w", err))
	}
	if err := s.eval(fmt.Sprintf("globalThis.__orbit_env = JSON.parse(%q);", string(envJSON))); err != nil {
		vm.Close()
		return nil, errors.ErrSandboxInit.WithCause(fmt.Errorf("installing environment: %w", err))
	}

	if err := s.eval(wrapESModule(opts.Source)); err != nil {
		vm.Close()
		return nil, errors.ErrSandboxInit.WithCause(fmt.Errorf("evaluating deployment bundle: %w", err))
	}

	ok, err := s.evalBool("typeof globalThis.__orbit_module__ !== 'undefined'")
	if err != nil || !ok {
		vm.Close()
		return nil, errors.ErrSandboxInit.WithCause(fmt.Errorf("bundle did not export a default module"))
	}

	return s, nil
}

// Invoke implements Sandbox.
func (s *QuickJSSandbox) Invoke(req *types.InvocationRequest, deadline time.Time) (result *Result, err error) {
	if s.closed {
		return nil, errors.ErrSandboxClosed
	}
	if !time.Now().Before(deadline) {
		return nil, errors.ErrExecutionTimeout
	}

	s.logs = nil
	var timedOut atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.ErrRuntimeFault.WithCause(fmt.Errorf("sandbox panic: %v", r))
			s.poisoned.Store(true)
		}
		// An interrupted VM may be stuck mid-script; never reuse it.
		if timedOut.Load() {
			s.poisoned.Store(true)
		}
		_ = s.eval(cleanupJS)
	}()

	reqObj := map[string]interface{}{
		"method":  req.Method,
		"url":     req.Path,
		"headers": req.Headers,
		"body":    string(req.Body),
	}
	reqJSON, merr := json.Marshal(reqObj)
	if merr != nil {
		return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("marshaling request: %w", merr))
	}
	if err := s.eval(fmt.Sprintf("globalThis.__orbit_req = JSON.parse(%q);", string(reqJSON))); err != nil {
		return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("building JS request: %w", err))
	}

	// Watchdog interrupts synchronous JS that outruns the deadline.
	watchdog := time.AfterFunc(time.Until(deadline), func() {
		timedOut.Store(true)
		s.vm.Interrupt()
	})
	defer watchdog.Stop()

	if err := s.eval(invokeJS); err != nil {
		if timedOut.Load() {
			return nil, errors.ErrExecutionTimeout
		}
		return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("invoking fetch handler: %w", err))
	}

	// Pump microtasks until the handler's promise settles or the deadline
	// elapses. A promise that never settles is a timeout, not a fault.
	for {
		executePendingJobs(s.vm)

		settled, berr := s.evalBool("globalThis.__orbit_settled === true")
		if berr != nil {
			if timedOut.Load() {
				return nil, errors.ErrExecutionTimeout
			}
			return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("polling settlement: %w", berr))
		}
		if settled {
			break
		}
		if !time.Now().Before(deadline) {
			// The handler's promise never settled; pending jobs leave the
			// runtime in an unknown state, so it must not be reused.
			s.poisoned.Store(true)
			return nil, errors.ErrExecutionTimeout
		}
		time.Sleep(time.Millisecond)
	}

	hasError, _ := s.evalBool("globalThis.__orbit_error !== undefined")
	if hasError {
		jsErr, _ := s.evalString("String(globalThis.__orbit_error)")
		return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("%s", jsErr))
	}

	normalized, nerr := s.evalString(normalizeJS)
	if nerr != nil {
		return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("normalizing response: %w", nerr))
	}

	var out struct {
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if uerr := json.Unmarshal([]byte(normalized), &out); uerr != nil {
		return nil, errors.ErrRuntimeFault.WithCause(fmt.Errorf("decoding response: %w", uerr))
	}

	logs := s.logs
	s.logs = nil

	return &Result{
		Status:  out.Status,
		Headers: out.Headers,
		Body:    []byte(out.Body),
		Logs:    logs,
	}, nil
}

// Interrupt implements Sandbox.
func (s *QuickJSSandbox) Interrupt() {
	s.poisoned.Store(true)
	s.vm.Interrupt()
}

// Healthy implements Sandbox.
func (s *QuickJSSandbox) Healthy() bool {
	return !s.closed && !s.poisoned.Load()
}

// Close implements Sandbox.
func (s *QuickJSSandbox) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.vm.Close()
}

func (s *QuickJSSandbox) eval(js string) error {
	v, err := s.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (s *QuickJSSandbox) evalBool(js string) (bool, error) {
	result, err := s.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

func (s *QuickJSSandbox) evalString(js string) (string, error) {
	result, err := s.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}
