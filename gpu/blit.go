package gpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// blitWGSL draws a fullscreen triangle sampling the staging texture. Used by
// Present to put a CPU-composited frame on screen without a vertex buffer.
const blitWGSL = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> VertexOutput {
    var out: VertexOutput;
    let x = f32(i32(index) / 2) * 4.0 - 1.0;
    let y = f32(i32(index) % 2) * 4.0 - 1.0;
    out.position = vec4<f32>(x, -y, 0.0, 1.0);
    out.uv = vec2<f32>((x + 1.0) * 0.5, (y + 1.0) * 0.5);
    return out;
}

@group(0) @binding(0) var frame_texture: texture_2d<f32>;
@group(0) @binding(1) var frame_sampler: sampler;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(frame_texture, frame_sampler, in.uv);
}
`

// blitState holds the lazily created presentation resources.
type blitState struct {
	format   wgpu.TextureFormat
	pipeline *wgpu.RenderPipeline
	sampler  *wgpu.Sampler
	texture  *wgpu.Texture
	view     *wgpu.TextureView
	width    int
	height   int
}

func (d *device) ConfigureSurface(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return errors.New("gpu: device has no presentation surface")
	}

	capabilities := d.surface.GetCapabilities(d.adapter)
	d.blit.format = capabilities.Formats[0]

	d.surface.Configure(d.adapter, d.dev, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      d.blit.format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	d.blit.width = width
	d.blit.height = height

	// The staging texture tracks the surface size.
	if d.blit.texture != nil {
		d.blit.view.Release()
		d.blit.texture.Release()
		d.blit.texture = nil
		d.blit.view = nil
	}
	return nil
}

// ensureBlitResources creates the blit pipeline, sampler, and staging
// texture on first use after a surface (re)configuration.
func (d *device) ensureBlitResources() error {
	if d.blit.pipeline == nil {
		module, err := d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label: "Blit",
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
				Code: blitWGSL,
			},
		})
		if err != nil {
			return fmt.Errorf("gpu: blit shader failed to compile: %w", err)
		}
		p, err := d.dev.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
			Label: "Blit Render Pipeline",
			Vertex: wgpu.VertexState{
				Module:     module,
				EntryPoint: "vs_main",
			},
			Fragment: &wgpu.FragmentState{
				Module:     module,
				EntryPoint: "fs_main",
				Targets: []wgpu.ColorTargetState{
					{
						Format:    d.blit.format,
						WriteMask: wgpu.ColorWriteMaskAll,
					},
				},
			},
			Primitive: wgpu.PrimitiveState{
				Topology:  wgpu.PrimitiveTopologyTriangleList,
				FrontFace: wgpu.FrontFaceCCW,
				CullMode:  wgpu.CullModeNone,
			},
			Multisample: wgpu.MultisampleState{
				Count: 1,
				Mask:  0xFFFFFFFF,
			},
		})
		if err != nil {
			return fmt.Errorf("gpu: blit pipeline creation failed: %w", err)
		}
		d.blit.pipeline = p
	}

	if d.blit.sampler == nil {
		samp, err := d.dev.CreateSampler(&wgpu.SamplerDescriptor{
			Label:         "Blit Sampler",
			AddressModeU:  wgpu.AddressModeClampToEdge,
			AddressModeV:  wgpu.AddressModeClampToEdge,
			AddressModeW:  wgpu.AddressModeClampToEdge,
			MagFilter:     wgpu.FilterModeLinear,
			MinFilter:     wgpu.FilterModeLinear,
			MipmapFilter:  wgpu.MipmapFilterModeNearest,
			LodMinClamp:   0,
			LodMaxClamp:   32,
			MaxAnisotropy: 1,
		})
		if err != nil {
			return err
		}
		d.blit.sampler = samp
	}

	if d.blit.texture == nil {
		tex, err := d.dev.CreateTexture(&wgpu.TextureDescriptor{
			Label:     "Blit Staging Texture",
			Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
			Dimension: wgpu.TextureDimension2D,
			Size: wgpu.Extent3D{
				Width:              uint32(d.blit.width),
				Height:             uint32(d.blit.height),
				DepthOrArrayLayers: 1,
			},
			Format:        wgpu.TextureFormatRGBA8Unorm,
			MipLevelCount: 1,
			SampleCount:   1,
		})
		if err != nil {
			return err
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			tex.Release()
			return err
		}
		d.blit.texture = tex
		d.blit.view = view
	}
	return nil
}

func (d *device) Present(pixels []byte, width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return errors.New("gpu: device has no presentation surface")
	}
	if width != d.blit.width || height != d.blit.height {
		return fmt.Errorf("gpu: present %dx%d does not match configured surface %dx%d",
			width, height, d.blit.width, d.blit.height)
	}
	if len(pixels) != width*height*4 {
		return fmt.Errorf("gpu: present expects %d bytes, got %d", width*height*4, len(pixels))
	}
	if err := d.ensureBlitResources(); err != nil {
		return err
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  d.blit.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(width) * 4,
			RowsPerImage: uint32(height),
		},
		&wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
	)

	surfaceTexture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	surfaceView, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	defer surfaceView.Release()

	bindGroup, err := d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Blit Bind Group",
		Layout: d.blit.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: d.blit.view},
			{Binding: 1, Sampler: d.blit.sampler},
		},
	})
	if err != nil {
		return err
	}
	defer bindGroup.Release()

	encoder, err := d.dev.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    surfaceView,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: 0, G: 0, B: 0, A: 1,
				},
			},
		},
	})
	pass.SetPipeline(d.blit.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return err
	}
	d.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	d.surface.Present()
	return nil
}

// releaseBlit frees the presentation resources. Caller holds the mutex.
func (d *device) releaseBlit() {
	if d.blit.view != nil {
		d.blit.view.Release()
		d.blit.view = nil
	}
	if d.blit.texture != nil {
		d.blit.texture.Release()
		d.blit.texture = nil
	}
	if d.blit.sampler != nil {
		d.blit.sampler.Release()
		d.blit.sampler = nil
	}
	if d.blit.pipeline != nil {
		d.blit.pipeline.Release()
		d.blit.pipeline = nil
	}
}
