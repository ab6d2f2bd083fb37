// Package wasm provides the binary module primitives the harness needs.
//
// It covers two directions:
//
//   - Encoding: Module is a small structural model of a core module that
//     encodes to the binary format. The harness uses it to build the default
//     spectest environment, and tests use it to build fixtures without a
//     text-format toolchain.
//   - Decoding: ParseInterface reads only the sections that describe a
//     module's interface (imports, memories, exports) and skips the rest.
//     The engine uses it to pre-link imports and to find shared memories.
//
// Function bodies are raw instruction bytes. The Code builder offers helpers
// for the handful of instructions fixtures use:
//
//	body := wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).End()
package wasm
