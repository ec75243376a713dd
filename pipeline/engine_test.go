// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lefp/particle-sim-sub000/filewatch"
	"github.com/lefp/particle-sim-sub000/shaderc"
)

// fakeCompiler fails on sources containing "error".
type fakeCompiler struct {
	calls int
}

func (c *fakeCompiler) Compile(src []byte, stage shaderc.Stage, name string) ([]byte, error) {
	c.calls++
	if bytes.Contains(src, []byte("error")) {
		return nil, &shaderc.CompileError{Name: name, Stage: stage, Status: shaderc.CompilationError, Diagnostics: name + ":1: error"}
	}
	return NullSPIRV(uint32(len(src))), nil
}

type fakeWatcher struct {
	paths  map[filewatch.ID]string
	last   filewatch.ID
	queued []filewatch.ID
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{paths: map[filewatch.ID]string{}}
}

func (w *fakeWatcher) Add(path string) (filewatch.ID, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, filewatch.ErrPathNotFound
	}
	w.last++
	w.paths[w.last] = path
	return w.last, nil
}

func (w *fakeWatcher) Remove(id filewatch.ID) error {
	if _, ok := w.paths[id]; !ok {
		return filewatch.ErrUnknownID
	}
	delete(w.paths, id)
	return nil
}

func (w *fakeWatcher) Poll(out []filewatch.ID) (int, error) {
	n := copy(out, w.queued)
	w.queued = w.queued[n:]
	return n, nil
}

// touch writes contents to path and queues its watch id.
func (w *fakeWatcher) touch(t *testing.T, path, contents string) {
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	for id, p := range w.paths {
		if p == path {
			w.queued = append(w.queued, id)
		}
	}
}

type fixture struct {
	dev      *NullDevice
	compiler *fakeCompiler
	watcher  *fakeWatcher
	engine   *Engine
	slot     *Slot
	vert     string
	frag     string
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	f := &fixture{
		dev:      NewNullDevice(),
		compiler: &fakeCompiler{},
		watcher:  newFakeWatcher(),
		vert:     filepath.Join(dir, "voxel.vert"),
		frag:     filepath.Join(dir, "voxel.frag"),
	}
	require.NoError(t, os.WriteFile(f.vert, []byte("void main() {}"), 0o644))
	require.NoError(t, os.WriteFile(f.frag, []byte("void main() { }"), 0o644))
	vspv := filepath.Join(dir, "voxel.vert.spv")
	fspv := filepath.Join(dir, "voxel.frag.spv")
	require.NoError(t, os.WriteFile(vspv, NullSPIRV(1), 0o644))
	require.NoError(t, os.WriteFile(fspv, NullSPIRV(2), 0o644))

	f.engine = NewEngine(f.dev, f.compiler, f.watcher)
	s, err := f.engine.AddSlot(Desc{
		Name:    "voxel",
		Sources: [numStages]string{f.vert, f.frag},
		SPIRV:   [numStages]string{vspv, fspv},
		Create:  NullCreate,
	})
	require.NoError(t, err)
	f.slot = s
	require.NoError(t, f.engine.InitFromPrebuilt(s))
	require.NoError(t, f.engine.EnableHotReload(s))
	return f
}

type snapshot struct {
	pipeline, layout Handle
	modules          [numStages]Handle
}

func (f *fixture) live() snapshot {
	return snapshot{f.slot.Pipeline, f.slot.Layout, f.slot.Modules}
}

func (f *fixture) frames(t *testing.T, from, to uint64, max int) {
	for fr := from; fr <= to; fr++ {
		require.NoError(t, f.engine.OnFrame(fr, max))
	}
}

func TestInitFromPrebuilt(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.slot.Built())
	assert.Equal(t, 4, f.dev.Len())
	assert.Equal(t, 0, f.compiler.calls)
	assert.Error(t, f.engine.InitFromPrebuilt(f.slot))
}

func TestInitFromPrebuiltInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.spv")
	good := filepath.Join(dir, "good.spv")
	require.NoError(t, os.WriteFile(bad, []byte("not spir-v at all...."), 0o644))
	require.NoError(t, os.WriteFile(good, NullSPIRV(1), 0o644))

	dev := NewNullDevice()
	e := NewEngine(dev, &fakeCompiler{}, nil)
	s, err := e.AddSlot(Desc{Name: "bad", SPIRV: [numStages]string{good, bad}, Create: NullCreate})
	require.NoError(t, err)
	err = e.InitFromPrebuilt(s)
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
	var ce *CreationError
	assert.ErrorAs(t, err, &ce)
	assert.False(t, s.Built())
	assert.Equal(t, 0, dev.Len(), "partial objects are destroyed")

	s.Desc.SPIRV[1] = filepath.Join(dir, "missing.spv")
	assert.ErrorIs(t, e.InitFromPrebuilt(s), os.ErrNotExist)
}

func TestAddSlotErrors(t *testing.T) {
	e := NewEngine(NewNullDevice(), &fakeCompiler{}, nil)
	_, err := e.AddSlot(Desc{Create: NullCreate})
	assert.Error(t, err)
	_, err = e.AddSlot(Desc{Name: "a"})
	assert.Error(t, err)
	_, err = e.AddSlot(Desc{Name: "a", Create: NullCreate})
	require.NoError(t, err)
	_, err = e.AddSlot(Desc{Name: "a", Create: NullCreate})
	assert.Error(t, err)
	assert.Equal(t, "a", e.Slot("a").Desc.Name)
	assert.Nil(t, e.Slot("b"))
	assert.Len(t, e.Slots(), 1)
	assert.Error(t, e.EnableHotReload(e.Slot("a")))
}

func TestRetireAfterFramesInFlight(t *testing.T) {
	f := newFixture(t)
	f.frames(t, 0, 9, 2)
	p0 := f.live()

	f.watcher.touch(t, f.frag, "void main() { discard; }")
	require.NoError(t, f.engine.OnFrame(10, 2))
	assert.NotEqual(t, p0.pipeline, f.slot.Pipeline)
	assert.Equal(t, uint64(10), f.slot.PublishedFrame)
	assert.Equal(t, 1, f.slot.Rebuilds)
	assert.Equal(t, 4, f.engine.Retired())

	require.NoError(t, f.engine.OnFrame(11, 2))
	for _, h := range []Handle{p0.pipeline, p0.layout, p0.modules[0], p0.modules[1]} {
		assert.True(t, f.dev.Live(h), "destroyed before frame 12")
	}
	require.NoError(t, f.engine.OnFrame(12, 2))
	for _, h := range []Handle{p0.pipeline, p0.layout, p0.modules[0], p0.modules[1]} {
		assert.False(t, f.dev.Live(h))
	}
	assert.Equal(t, 0, f.engine.Retired())
	assert.Equal(t, 4, f.dev.Len())
}

func TestCompileFailureKeepsPipeline(t *testing.T) {
	f := newFixture(t)
	var reloads []error
	f.engine.OnReload = func(name string, d time.Duration, err error) {
		assert.Equal(t, "voxel", name)
		reloads = append(reloads, err)
	}
	before := f.live()

	f.watcher.touch(t, f.frag, "void main() { error }")
	require.NoError(t, f.engine.OnFrame(1, 2))
	assert.Equal(t, before, f.live())
	assert.True(t, f.slot.LastReloadFailed)
	assert.Contains(t, f.slot.Diagnostic, "voxel.frag:1: error")
	assert.Equal(t, 4, f.dev.Len())
	assert.Equal(t, 0, f.engine.Retired())
	require.Len(t, reloads, 1)
	var ce *shaderc.CompileError
	assert.ErrorAs(t, reloads[0], &ce)

	f.watcher.touch(t, f.frag, "void main() { discard; }")
	require.NoError(t, f.engine.OnFrame(2, 2))
	assert.False(t, f.slot.LastReloadFailed)
	assert.Empty(t, f.slot.Diagnostic)
	assert.NotEqual(t, before.pipeline, f.slot.Pipeline)
	assert.Equal(t, uint64(2), f.slot.PublishedFrame)
	require.Len(t, reloads, 2)
	assert.NoError(t, reloads[1])
}

func TestCreateFailureKeepsPipeline(t *testing.T) {
	f := newFixture(t)
	before := f.live()
	f.dev.FailCreate = errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY")

	f.watcher.touch(t, f.vert, "void main() { gl_Position = vec4(0); }")
	require.NoError(t, f.engine.OnFrame(1, 2))
	assert.Equal(t, before, f.live())
	assert.True(t, f.slot.LastReloadFailed)
	assert.Contains(t, f.slot.Diagnostic, "VK_ERROR_OUT_OF_DEVICE_MEMORY")
	assert.Equal(t, 4, f.dev.Len(), "new shader modules are destroyed")

	f.dev.FailCreate = nil
	f.engine.Reload(f.slot)
	require.NoError(t, f.engine.OnFrame(2, 2))
	assert.False(t, f.slot.LastReloadFailed)
	assert.NotEqual(t, before, f.live())
}

func TestMissingSourceKeepsPipeline(t *testing.T) {
	f := newFixture(t)
	before := f.live()
	require.NoError(t, os.Remove(f.vert))
	f.engine.Reload(f.slot)
	require.NoError(t, f.engine.OnFrame(1, 2))
	assert.Equal(t, before, f.live())
	assert.True(t, f.slot.LastReloadFailed)
}

func TestReloadWithoutCompiler(t *testing.T) {
	dir := t.TempDir()
	vspv := filepath.Join(dir, "grid.vert.spv")
	fspv := filepath.Join(dir, "grid.frag.spv")
	require.NoError(t, os.WriteFile(vspv, NullSPIRV(1), 0o644))
	require.NoError(t, os.WriteFile(fspv, NullSPIRV(2), 0o644))

	dev := NewNullDevice()
	e := NewEngine(dev, nil, nil)
	s, err := e.AddSlot(Desc{
		Name:    "grid",
		Sources: [numStages]string{filepath.Join(dir, "grid.vert"), filepath.Join(dir, "grid.frag")},
		SPIRV:   [numStages]string{vspv, fspv},
		Create:  NullCreate,
	})
	require.NoError(t, err)
	require.NoError(t, e.InitFromPrebuilt(s))
	before := snapshot{s.Pipeline, s.Layout, s.Modules}

	e.Reload(s)
	require.NoError(t, e.OnFrame(1, 2))
	assert.Equal(t, before, snapshot{s.Pipeline, s.Layout, s.Modules})
	assert.True(t, s.LastReloadFailed)
	assert.Contains(t, s.Diagnostic, ErrNoCompiler.Error())
	assert.Equal(t, 0, s.Rebuilds)
	assert.Equal(t, 4, dev.Len())
}

func TestBothStagesOneRebuild(t *testing.T) {
	f := newFixture(t)
	f.watcher.touch(t, f.vert, "void main() { gl_PointSize = 1.0; }")
	f.watcher.touch(t, f.frag, "void main() { discard; }")
	f.watcher.touch(t, f.frag, "void main() { discard; discard; }")
	require.NoError(t, f.engine.OnFrame(1, 2))
	assert.Equal(t, 1, f.slot.Rebuilds)
	assert.Equal(t, 2, f.compiler.calls)
}

func TestStackedRetirements(t *testing.T) {
	f := newFixture(t)
	var pending []int
	f.engine.OnRetire = func(n int) { pending = append(pending, n) }

	p0 := f.live()
	f.watcher.touch(t, f.frag, "void main() { discard; }")
	require.NoError(t, f.engine.OnFrame(5, 2))
	p1 := f.live()
	f.watcher.touch(t, f.frag, "void main() { discard; discard; }")
	require.NoError(t, f.engine.OnFrame(6, 2))
	assert.Equal(t, 8, f.engine.Retired())
	assert.Equal(t, 2, f.slot.Rebuilds)

	require.NoError(t, f.engine.OnFrame(7, 2))
	assert.False(t, f.dev.Live(p0.pipeline))
	assert.True(t, f.dev.Live(p1.pipeline))
	require.NoError(t, f.engine.OnFrame(8, 2))
	assert.False(t, f.dev.Live(p1.pipeline))
	assert.Equal(t, []int{4, 8, 4, 0}, pending)
}

func TestNoEarlyDestruction(t *testing.T) {
	for _, max := range []int{1, 2, 3} {
		f := newFixture(t)
		retiredAt := map[Handle]uint64{}
		for frame := uint64(1); frame <= 40; frame++ {
			if frame%3 == 0 || frame%7 == 0 {
				old := f.live()
				f.engine.Reload(f.slot)
				require.NoError(t, f.engine.OnFrame(frame, max))
				for _, h := range []Handle{old.pipeline, old.layout, old.modules[0], old.modules[1]} {
					retiredAt[h] = frame
				}
			} else {
				require.NoError(t, f.engine.OnFrame(frame, max))
			}
			for h, at := range retiredAt {
				if frame < at+uint64(max) {
					assert.True(t, f.dev.Live(h), "max %d: %#x retired at %d destroyed at %d", max, h, at, frame)
				} else {
					assert.False(t, f.dev.Live(h), "max %d: %#x retired at %d still live at %d", max, h, at, frame)
				}
			}
		}
	}
}

func TestRetireBound(t *testing.T) {
	f := newFixture(t)
	f.engine.SetMaxRetired(6)
	f.engine.Reload(f.slot)
	require.NoError(t, f.engine.OnFrame(1, 2))
	f.engine.Reload(f.slot)
	assert.Panics(t, func() { f.engine.OnFrame(1, 2) })
}

func TestDisableHotReload(t *testing.T) {
	f := newFixture(t)
	f.engine.DisableHotReload(f.slot)
	assert.Empty(t, f.watcher.paths)
	f.watcher.touch(t, f.frag, "void main() { discard; }")
	require.NoError(t, f.engine.OnFrame(1, 2))
	assert.Equal(t, 0, f.slot.Rebuilds)
}

func TestEngineClose(t *testing.T) {
	f := newFixture(t)
	f.engine.Reload(f.slot)
	require.NoError(t, f.engine.OnFrame(1, 2))
	assert.Equal(t, 8, f.dev.Len())
	f.engine.Close()
	assert.Equal(t, 0, f.dev.Len())
	assert.Empty(t, f.watcher.paths)
	assert.False(t, f.slot.Built())
}

func TestNullDevice(t *testing.T) {
	d := NewNullDevice()
	_, err := d.CreateShaderModule([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
	spv := NullSPIRV(3)
	spv[0] = 0
	_, err = d.CreateShaderModule(spv)
	assert.ErrorIs(t, err, ErrInvalidSPIRV)

	m, err := d.CreateShaderModule(NullSPIRV(3))
	require.NoError(t, err)
	_, _, err = d.CreatePipeline(&BuildInfo{Name: "x", VertexModule: m, FragmentModule: 99})
	assert.Error(t, err)
	p, l, err := d.CreatePipeline(&BuildInfo{Name: "x", VertexModule: m, FragmentModule: m})
	require.NoError(t, err)
	assert.Panics(t, func() { d.DestroyShaderModule(p) })
	d.DestroyPipeline(p)
	d.DestroyPipelineLayout(l)
	d.DestroyShaderModule(m)
	assert.Panics(t, func() { d.DestroyShaderModule(m) })
	assert.Equal(t, 0, d.Len())
}
