// Copyright 2026 the bagstream authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kit provides small shared utilities for the bagstream module.
package kit

import "context"

// RunStatus wraps a cancellable Context for the purpose of asking a
// sub-process whether it should keep running, or instructing it to halt.
type RunStatus struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunStatus creates a RunStatus. If parent == nil, context.Background()
// is used.
func NewRunStatus(parent context.Context) RunStatus {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return RunStatus{ctx, cancel}
}

func (rs RunStatus) Ctx() context.Context {
	return rs.ctx
}

func (rs RunStatus) Done() <-chan struct{} {
	return rs.ctx.Done()
}

func (rs RunStatus) Running() bool {
	return rs.ctx.Err() == nil
}

func (rs RunStatus) Halt() {
	rs.cancel()
}

// Fork creates a child RunStatus using the current Ctx() as parent.
func (rs RunStatus) Fork() RunStatus {
	return NewRunStatus(rs.Ctx())
}
