// Package onnx implements the nn interfaces on top of ONNX Runtime.
//
// Sessions are created with preallocated input and output tensors, so a session
// is not reentrant. Every model therefore owns a mutex which is held for the entire
// copy-in, Run, copy-out sequence.
package onnx

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envLock     sync.Mutex
	envRefCount int
)

// Initialize the ONNX Runtime environment.
// libraryPath is the path to onnxruntime.so (or .dll/.dylib). If empty, the default
// search path of the runtime is used. Every successful call must be matched by a call
// to Shutdown.
func Initialize(log logs.Log, libraryPath string) error {
	envLock.Lock()
	defer envLock.Unlock()
	if envRefCount == 0 {
		if libraryPath != "" {
			log.Infof("Using ONNX Runtime library %v", libraryPath)
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("Failed to initialize ONNX environment: %w", err)
		}
	}
	envRefCount++
	return nil
}

// Shutdown destroys the ONNX Runtime environment, once the last user has shut down
func Shutdown() {
	envLock.Lock()
	defer envLock.Unlock()
	if envRefCount == 0 {
		return
	}
	envRefCount--
	if envRefCount == 0 {
		ort.DestroyEnvironment()
	}
}
