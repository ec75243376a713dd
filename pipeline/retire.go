// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import "fmt"

// objectKind is the kind of a retired object.
type objectKind int

const (
	shaderModule objectKind = iota
	pipelineObject
	pipelineLayout
)

func (k objectKind) String() string {
	switch k {
	case shaderModule:
		return "shader module"
	case pipelineObject:
		return "pipeline"
	case pipelineLayout:
		return "pipeline layout"
	}
	return fmt.Sprintf("objectKind(%d)", int(k))
}

type retiredObject struct {
	kind   objectKind
	handle Handle

	// frame is the frame at which the object was retired.
	frame uint64
}

// retireQueue holds objects that were replaced but may still be used
// by submitted frames. It is bounded; overflowing it is fatal.
type retireQueue struct {
	objects []retiredObject
	limit   int
}

func (q *retireQueue) push(kind objectKind, h Handle, frame uint64) {
	if h == 0 {
		return
	}
	if len(q.objects) >= q.limit {
		panic(fmt.Errorf("pipeline: more than %d retired objects are pending destruction", q.limit))
	}
	for _, o := range q.objects {
		if o.handle == h && o.kind == kind {
			panic(fmt.Errorf("pipeline: %s %#x retired twice", kind, h))
		}
	}
	q.objects = append(q.objects, retiredObject{kind: kind, handle: h, frame: frame})
}

// collect destroys every object retired at a frame f with
// f + maxInFlight <= frame, and returns the number destroyed.
func (q *retireQueue) collect(dev Device, frame uint64, maxInFlight int) int {
	n := 0
	kept := q.objects[:0]
	for _, o := range q.objects {
		if o.frame+uint64(maxInFlight) > frame {
			kept = append(kept, o)
			continue
		}
		destroy(dev, o.kind, o.handle)
		n++
	}
	clear(q.objects[len(kept):])
	q.objects = kept
	return n
}

// drain destroys every object regardless of frame. The device must be idle.
func (q *retireQueue) drain(dev Device) {
	for _, o := range q.objects {
		destroy(dev, o.kind, o.handle)
	}
	q.objects = q.objects[:0]
}

func destroy(dev Device, kind objectKind, h Handle) {
	switch kind {
	case shaderModule:
		dev.DestroyShaderModule(h)
	case pipelineObject:
		dev.DestroyPipeline(h)
	case pipelineLayout:
		dev.DestroyPipelineLayout(h)
	}
}
