//go:build llama

package backend

// The rpath lets the loader find libllama.so next to the binary; -L points
// the linker at ./bin when building the llama variant.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
