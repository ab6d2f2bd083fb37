// Package wasmharness runs WebAssembly test scripts against a pluggable engine.
//
// A script is a list of assertions about compiling, instantiating and
// invoking modules. The harness issues them in order, records one pass or
// fail per assertion and keeps going after a failure, so a whole file is
// always reported.
//
// # Architecture Overview
//
//	wasmharness/
//	├── chain/      Strictly sequential step chain with futures
//	├── harness/    Assertion ops, default spectest imports, threads, suites
//	├── worker/     Worker pool, lifecycle records and the message contract
//	├── registry/   Named import bundles used for linking
//	├── match/      Result matching (NaN classes, ±0, alternatives)
//	├── report/     Assertion results and reporters
//	├── engine/     Engine interface and the wazero implementation
//	├── script/     wast2json command file loader
//	├── wasm/       Module model, binary encoder and decoder
//	├── errors/     Structured phase/kind errors
//	└── cmd/run/    Command line runner with an optional terminal UI
//
// # Quick Start
//
// Write a script in Go:
//
//	eng, _ := engine.NewWazeroEngine(ctx)
//	defer eng.Close(ctx)
//
//	rec := report.NewRecorder()
//	h := harness.New(ctx, eng, rec, nil)
//	m := h.Instance(bin, nil, true)
//	h.AssertReturn(h.Invoke(m, "add", int32(1), int32(2)), int32(3))
//	h.AssertTrap(h.Invoke(m, "div_s", int32(1), int32(0)))
//	if err := h.Finish(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Or run wast2json output:
//
//	suite := &harness.Suite{
//	    Engine:   eng,
//	    Loader:   script.NewLoader(os.DirFS("testdata")),
//	    Reporter: rec,
//	}
//	err := suite.Run(ctx, "i32.json", "threads/atomic.json")
//
// # Threads
//
// Thread spawns a worker running another script in its own harness. The
// worker sees only the shared memories of the instances named in its scope.
// Its results are forwarded to the parent reporter, and Wait joins it.
// Workers still running when the file finishes are terminated and their
// remaining results are dropped.
package wasmharness
