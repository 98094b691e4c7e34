// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

// SetBeforeRename installs a hook run between writing and renaming.
func (s *Store) SetBeforeRename(fn func(tmp string) error) { s.beforeRename = fn }
