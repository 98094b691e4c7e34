// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins_test

import (
	"os"
	"path/filepath"
)

func writeManifest(dir, id, text string) error {
	return os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(text), 0o600)
}
