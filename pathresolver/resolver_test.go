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

package pathresolver_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nmarsh/brisk/pathresolver"

	"github.com/stretchr/testify/require"
)

func mustWriteFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestResolveSmallFile(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), 10)

	r := pathresolver.New(root, "")
	res, err := r.Resolve("a.txt")
	require.NoError(t, err)
	require.Equal(t, pathresolver.KindSmall, res.Kind)
}

func TestResolveLargeFile(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "big.bin"), pathresolver.SmallFileThreshold)

	r := pathresolver.New(root, "")
	res, err := r.Resolve("big.bin")
	require.NoError(t, err)
	require.Equal(t, pathresolver.KindLarge, res.Kind)
}

func TestResolveDirWithIndexRedirects(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	mustWriteFile(t, filepath.Join(root, "sub", "index.html"), 5)

	r := pathresolver.New(root, "")
	res, err := r.Resolve("sub")
	require.NoError(t, err)
	require.Equal(t, pathresolver.KindSmall, res.Kind)
	require.Equal(t, filepath.Join(root, "sub", "index.html"), res.FullPath)
}

func TestResolveDirWithoutIndexListsItself(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	r := pathresolver.New(root, "")
	res, err := r.Resolve("sub")
	require.NoError(t, err)
	require.Equal(t, pathresolver.KindDir, res.Kind)
}

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(filepath.Dir(root), "secret"), 5)

	r := pathresolver.New(root, "")
	_, err := r.Resolve("../secret")
	require.Error(t, err)

	var escErr *pathresolver.ErrEscape
	require.ErrorAs(t, err, &escErr)
}

func TestResolveRejectsDeepEscape(t *testing.T) {
	root := t.TempDir()
	r := pathresolver.New(root, "")

	_, err := r.Resolve(strings.Repeat("../", 20) + "etc/passwd")
	require.Error(t, err)
}

func TestResolveMissingFile(t *testing.T) {
	root := t.TempDir()
	r := pathresolver.New(root, "")

	_, err := r.Resolve("nope.txt")
	require.Error(t, err)
}

func TestResolveCustomIndexName(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	mustWriteFile(t, filepath.Join(root, "sub", "home.htm"), 5)

	r := pathresolver.New(root, "home.htm")
	res, err := r.Resolve("sub")
	require.NoError(t, err)
	require.Equal(t, pathresolver.KindSmall, res.Kind)
}
