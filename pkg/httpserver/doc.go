// Package httpserver runs the worker's ops HTTP endpoint.
//
// Server wraps net/http with context-driven graceful shutdown: Run serves
// until the context is cancelled, then calls Shutdown within the configured
// timeout. RunFunc plugs it straight into an errgroup next to the executor and
// scheduler:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(srv.RunFunc(ctx, router))
//
// LivenessHandler and ReadinessHandler serve /healthz and /readyz; readiness
// runs named checks (store ping, Redis ping) and reports each result.
package httpserver
