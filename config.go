// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package h1conn

import (
	"time"

	"github.com/packetd/h1conn/confengine"
)

// connectionConfig mirrors Options' tunables with config tags, the
// same way server.Config does for the "server" section.
type connectionConfig struct {
	BufferSize         int           `config:"bufferSize"`
	InitialReadWindow  int           `config:"initialReadWindow"`
	ChunkQueueCapacity int           `config:"chunkQueueCapacity"`
	MaxCapturedBody    int           `config:"maxCapturedBody"`
	IdleTimeout        time.Duration `config:"idleTimeout"`
}

// OptionsFromConfig builds Options from the "connection" section of
// conf. A conf with no such section yields the zero Options, which
// NewConnection fills in with its own defaults.
func OptionsFromConfig(conf *confengine.Config) (Options, error) {
	if conf == nil || !conf.Has("connection") {
		return Options{}, nil
	}
	var cc connectionConfig
	if err := conf.UnpackChild("connection", &cc); err != nil {
		return Options{}, err
	}
	return Options{
		BufferSize:         cc.BufferSize,
		InitialReadWindow:  cc.InitialReadWindow,
		ChunkQueueCapacity: cc.ChunkQueueCapacity,
		MaxCapturedBody:    cc.MaxCapturedBody,
		IdleTimeout:        cc.IdleTimeout,
	}, nil
}
