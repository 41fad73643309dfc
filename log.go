// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import "go.uber.org/zap"

// nopLogger returns a *zap.Logger whose methods are all safe no-ops, used
// as the default when a Server is constructed without WithLogger.
func nopLogger() *zap.Logger {
	return zap.NewNop()
}
