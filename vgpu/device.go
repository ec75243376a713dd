// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package vgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/lefp/particle-sim-sub000/pipeline"
)

// ColorFormat is the format of the offscreen color attachment.
const ColorFormat = vk.FormatR8g8b8a8Unorm

// Device is a headless Vulkan logical device. It implements
// [pipeline.Device]; engine handles index a table of Vulkan objects.
type Device struct {
	Instance   vk.Instance
	GPU        vk.PhysicalDevice
	Device     vk.Device
	QueueIndex uint32
	Queue      vk.Queue

	// Graphics is the fixed-function state used by [Device.Create].
	Graphics Graphics

	renderPass   vk.RenderPass
	renderPassID pipeline.Handle
	cache        vk.PipelineCache

	last    pipeline.Handle
	objects map[pipeline.Handle]any
}

// Open creates an instance, picks the first GPU with a graphics queue,
// and creates a logical device and an offscreen render pass on it.
func Open(opts Options) (*Device, error) {
	if err := load(opts.Library); err != nil {
		return nil, err
	}
	dv := &Device{Graphics: DefaultGraphics(), objects: map[pipeline.Handle]any{}}
	if err := dv.init(opts); err != nil {
		dv.Close()
		return nil, err
	}
	slog.Info("vgpu: opened device", "queue", dv.QueueIndex)
	return dv, nil
}

func (dv *Device) init(opts Options) error {
	name := opts.AppName
	if name == "" {
		name = "particlesim"
	}
	info := &vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			PApplicationName:   name + "\x00",
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PEngineName:        "particlesim\x00",
			ApiVersion:         vk.MakeVersion(1, 2, 0),
		},
	}
	if opts.Validation {
		layers := []string{"VK_LAYER_KHRONOS_validation\x00"}
		info.EnabledLayerCount = uint32(len(layers))
		info.PpEnabledLayerNames = layers
	}
	var instance vk.Instance
	if err := NewError("vkCreateInstance", vk.CreateInstance(info, nil, &instance)); err != nil {
		return err
	}
	dv.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return fmt.Errorf("vgpu: %w", err)
	}
	if err := dv.findQueue(vk.QueueGraphicsBit); err != nil {
		return err
	}
	if err := dv.makeDevice(); err != nil {
		return err
	}
	var cache vk.PipelineCache
	err := NewError("vkCreatePipelineCache", vk.CreatePipelineCache(dv.Device, &vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}, nil, &cache))
	if err != nil {
		return err
	}
	dv.cache = cache
	return dv.makeRenderPass()
}

// findQueue finds a GPU and a queue for given flag bits.
func (dv *Device) findQueue(flags vk.QueueFlagBits) error {
	var count uint32
	vk.EnumeratePhysicalDevices(dv.Instance, &count, nil)
	if count == 0 {
		return errors.New("vgpu: no Vulkan-capable GPU found")
	}
	gpus := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(dv.Instance, &count, gpus)

	required := vk.QueueFlags(flags)
	for _, gpu := range gpus {
		var queueCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, nil)
		props := make([]vk.QueueFamilyProperties, queueCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, props)
		for i := range props {
			props[i].Deref()
			if props[i].QueueFlags&required != 0 {
				dv.GPU = gpu
				dv.QueueIndex = uint32(i)
				return nil
			}
		}
	}
	return errors.New("vgpu: no GPU has a queue with graphics capabilities")
}

// makeDevice makes the logical device and queue based on QueueIndex.
func (dv *Device) makeDevice() error {
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: dv.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	var device vk.Device
	ret := vk.CreateDevice(dv.GPU, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfos)),
		PQueueCreateInfos:    queueInfos,
	}, nil, &device)
	if err := NewError("vkCreateDevice", ret); err != nil {
		return err
	}
	dv.Device = device

	var queue vk.Queue
	vk.GetDeviceQueue(dv.Device, dv.QueueIndex, 0, &queue)
	dv.Queue = queue
	return nil
}

func (dv *Device) makeRenderPass() error {
	color := vk.AttachmentDescription{
		Format:         ColorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutTransferSrcOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	var rp vk.RenderPass
	ret := vk.CreateRenderPass(dv.Device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{color},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}, nil, &rp)
	if err := NewError("vkCreateRenderPass", ret); err != nil {
		return err
	}
	dv.renderPass = rp
	dv.renderPassID = dv.add(rp)
	return nil
}

// RenderPass returns the handle of the offscreen render pass.
func (dv *Device) RenderPass() pipeline.Handle {
	return dv.renderPassID
}

// AddDescriptorSetLayout returns a handle for a descriptor set layout
// owned by the caller, for use in [pipeline.Desc].
func (dv *Device) AddDescriptorSetLayout(l vk.DescriptorSetLayout) pipeline.Handle {
	return dv.add(l)
}

func (dv *Device) add(obj any) pipeline.Handle {
	dv.last++
	dv.objects[dv.last] = obj
	return dv.last
}

func lookup[T any](dv *Device, h pipeline.Handle) (T, bool) {
	o, ok := dv.objects[h].(T)
	return o, ok
}

func take[T any](dv *Device, h pipeline.Handle) T {
	o, ok := lookup[T](dv, h)
	if !ok {
		panic(fmt.Errorf("vgpu: handle %#x is not a live %T", h, o))
	}
	delete(dv.objects, h)
	return o
}

func (dv *Device) CreateShaderModule(spirv []byte) (pipeline.Handle, error) {
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return 0, fmt.Errorf("vgpu: SPIR-V size %d is not a multiple of 4", len(spirv))
	}
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(dv.Device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(spirv)),
		PCode:    unsafe.Slice((*uint32)(unsafe.Pointer(&spirv[0])), len(spirv)/4),
	}, nil, &module)
	if err := NewError("vkCreateShaderModule", ret); err != nil {
		return 0, err
	}
	return dv.add(module), nil
}

func (dv *Device) DestroyShaderModule(h pipeline.Handle) {
	vk.DestroyShaderModule(dv.Device, take[vk.ShaderModule](dv, h), nil)
}

func (dv *Device) DestroyPipeline(h pipeline.Handle) {
	vk.DestroyPipeline(dv.Device, take[vk.Pipeline](dv, h), nil)
}

func (dv *Device) DestroyPipelineLayout(h pipeline.Handle) {
	vk.DestroyPipelineLayout(dv.Device, take[vk.PipelineLayout](dv, h), nil)
}

// WaitIdle waits for the device to finish all submitted work.
func (dv *Device) WaitIdle() {
	if dv.Device != nil {
		vk.DeviceWaitIdle(dv.Device)
	}
}

// Close destroys the device and every object still in the handle table.
func (dv *Device) Close() {
	if dv.Device != nil {
		vk.DeviceWaitIdle(dv.Device)
		for h, o := range dv.objects {
			switch o := o.(type) {
			case vk.Pipeline:
				vk.DestroyPipeline(dv.Device, o, nil)
			case vk.PipelineLayout:
				vk.DestroyPipelineLayout(dv.Device, o, nil)
			case vk.ShaderModule:
				vk.DestroyShaderModule(dv.Device, o, nil)
			}
			delete(dv.objects, h)
		}
		if dv.renderPass != nil {
			vk.DestroyRenderPass(dv.Device, dv.renderPass, nil)
			dv.renderPass = nil
		}
		if dv.cache != nil {
			vk.DestroyPipelineCache(dv.Device, dv.cache, nil)
			dv.cache = nil
		}
		vk.DestroyDevice(dv.Device, nil)
		dv.Device = nil
	}
	if dv.Instance != nil {
		vk.DestroyInstance(dv.Instance, nil)
		dv.Instance = nil
	}
}
