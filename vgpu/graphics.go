// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package vgpu

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/lefp/particle-sim-sub000/pipeline"
)

// Graphics is the fixed-function state of the pipelines built by
// [Device.Create]. Vertex data comes from storage buffers, so there
// is no vertex input state.
type Graphics struct {
	Topology    vk.PrimitiveTopology
	PolygonMode vk.PolygonMode
	CullMode    vk.CullModeFlagBits
	FrontFace   vk.FrontFace
	LineWidth   float32

	// AlphaBlend selects premultiplied alpha blending; otherwise
	// the new color overwrites the old.
	AlphaBlend bool

	// PushConstantSize is the size in bytes of the push constant range
	// visible to both stages; 0 for none.
	PushConstantSize uint32
}

// DefaultGraphics returns the settings for rendering particles as points.
func DefaultGraphics() Graphics {
	return Graphics{
		Topology:    vk.PrimitiveTopologyPointList,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeNone,
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1,
		AlphaBlend:  true,
	}
}

func (g *Graphics) colorBlend() *vk.PipelineColorBlendStateCreateInfo {
	var cb vk.PipelineColorBlendAttachmentState
	cb.ColorWriteMask = 0xF
	if g.AlphaBlend {
		cb.BlendEnable = vk.True
		cb.SrcColorBlendFactor = vk.BlendFactorOne
		cb.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		cb.ColorBlendOp = vk.BlendOpAdd
		cb.SrcAlphaBlendFactor = vk.BlendFactorOne
		cb.DstAlphaBlendFactor = vk.BlendFactorZero
		cb.AlphaBlendOp = vk.BlendOpAdd
	} else {
		cb.BlendEnable = vk.False
	}
	return &vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{cb},
	}
}

// config returns the create info for given stages and layout.
func (g *Graphics) config(stages []vk.PipelineShaderStageCreateInfo, layout vk.PipelineLayout, rp vk.RenderPass, subpass uint32) vk.GraphicsPipelineCreateInfo {
	return vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology:               g.Topology,
			PrimitiveRestartEnable: vk.False,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ScissorCount:  1,
			ViewportCount: 1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: g.PolygonMode,
			CullMode:    vk.CullModeFlags(g.CullMode),
			FrontFace:   g.FrontFace,
			LineWidth:   g.LineWidth,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: g.colorBlend(),
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     layout,
		RenderPass: rp,
		Subpass:    subpass,
	}
}

// Create is a [pipeline.CreateFunc] building a graphics pipeline with
// the settings in [Device.Graphics]. The device passed must be dv.
func (dv *Device) Create(_ pipeline.Device, info *pipeline.BuildInfo) (pipeline.Handle, pipeline.Handle, error) {
	vs, ok := lookup[vk.ShaderModule](dv, info.VertexModule)
	if !ok {
		return 0, 0, fmt.Errorf("vgpu: %s: vertex module %#x is not live", info.Name, info.VertexModule)
	}
	fs, ok := lookup[vk.ShaderModule](dv, info.FragmentModule)
	if !ok {
		return 0, 0, fmt.Errorf("vgpu: %s: fragment module %#x is not live", info.Name, info.FragmentModule)
	}
	rp, ok := lookup[vk.RenderPass](dv, info.RenderPass)
	if !ok {
		return 0, 0, fmt.Errorf("vgpu: %s: render pass %#x is not live", info.Name, info.RenderPass)
	}
	layoutInfo := &vk.PipelineLayoutCreateInfo{SType: vk.StructureTypePipelineLayoutCreateInfo}
	if info.DescriptorSetLayout != 0 {
		dsl, ok := lookup[vk.DescriptorSetLayout](dv, info.DescriptorSetLayout)
		if !ok {
			return 0, 0, fmt.Errorf("vgpu: %s: descriptor set layout %#x is not live", info.Name, info.DescriptorSetLayout)
		}
		layoutInfo.SetLayoutCount = 1
		layoutInfo.PSetLayouts = []vk.DescriptorSetLayout{dsl}
	}
	if n := dv.Graphics.PushConstantSize; n > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
			Size:       n,
		}}
	}
	var layout vk.PipelineLayout
	if err := NewError("vkCreatePipelineLayout", vk.CreatePipelineLayout(dv.Device, layoutInfo, nil, &layout)); err != nil {
		return 0, 0, err
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vs,
			PName:  "main\x00",
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fs,
			PName:  "main\x00",
		},
	}
	pipelines := make([]vk.Pipeline, 1)
	cfg := dv.Graphics.config(stages, layout, rp, info.Subpass)
	ret := vk.CreateGraphicsPipelines(dv.Device, dv.cache, 1, []vk.GraphicsPipelineCreateInfo{cfg}, nil, pipelines)
	if err := NewError("vkCreateGraphicsPipelines", ret); err != nil {
		vk.DestroyPipelineLayout(dv.Device, layout, nil)
		return 0, 0, err
	}
	return dv.add(pipelines[0]), dv.add(layout), nil
}
