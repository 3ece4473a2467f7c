// Copyright 2024 The Brisk Authors.
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

// Package config loads brisk's configuration file, the "config layer"
// spec.md §1 names as out-of-core-scope but every complete server needs
// one. Files are TOML (github.com/pelletier/go-toml), matching §6's
// dotted threads.count/threads.max_fd keys as native TOML tables, the
// same file format the pack's richest example (moby-moby) carries a
// direct dependency on.
package config

import (
	"os"

	toml "github.com/pelletier/go-toml"
)

// Threads mirrors §6's threads.* option group.
type Threads struct {
	Count int `toml:"count"`
	MaxFD int `toml:"max_fd"`
}

// Cache mirrors the SUPPLEMENTED cache-size bound layered on top of §3/§4.6's
// required TTL-based eviction.
type Cache struct {
	TTLSeconds int `toml:"ttl_seconds"`
	MaxEntries int `toml:"max_entries"`
}

// File is the on-disk shape of brisk's TOML config file: §6's
// root_path/index_html/keep_alive_timeout/threads.count/threads.max_fd,
// plus the listen address and the loopback-only metrics address the
// AMBIENT/DOMAIN STACK sections of SPEC_FULL.md add.
type File struct {
	RootPath         string  `toml:"root_path"`
	IndexHTML        string  `toml:"index_html"`
	KeepAliveTimeout int     `toml:"keep_alive_timeout"`
	Listen           string  `toml:"listen"`
	MetricsListen    string  `toml:"metrics_listen"`
	Threads          Threads `toml:"threads"`
	Cache            Cache   `toml:"cache"`
}

// Default returns a File populated with the defaults §6 and
// SPEC_FULL.md's SUPPLEMENTED FEATURES imply when a key is omitted.
func Default() File {
	return File{
		IndexHTML:        "index.html",
		KeepAliveTimeout: 15,
		Listen:           ":8080",
		MetricsListen:    "127.0.0.1:9090",
		Threads:          Threads{Count: 4, MaxFD: 1024},
		Cache:            Cache{TTLSeconds: 60, MaxEntries: 0},
	}
}

// Load reads and parses a TOML config file at path, starting from
// Default() so any key the file omits keeps its default value.
func Load(path string) (File, error) {
	f := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}
