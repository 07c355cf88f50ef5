// Command rhidemo drives a frame loop with several frames in flight on a
// chosen backend and reports per-list statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/backend/software"

	_ "github.com/gogpu/rhi/backend/native"
)

const (
	vsSource = `@vertex fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
	let x = f32(i32(i) - 1);
	let y = f32(i32(i & 1u) * 2 - 1);
	return vec4<f32>(x, y, 0.0, 1.0);
}`
	fsSource = `@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var smp: sampler;
@group(0) @binding(2) var<uniform> tint: vec4<f32>;
@fragment fn fs_main(@builtin(position) p: vec4<f32>) -> @location(0) vec4<f32> {
	return textureSample(tex, smp, p.xy / 256.0) * tint;
}`
)

func main() {
	var (
		backendName = flag.String("backend", "", "backend name (software, native); empty picks the best available")
		frames      = flag.Int("frames", 120, "frames to record per command list")
		inFlight    = flag.Int("inflight", rhi.DefaultFramesInFlight, "frames in flight per command list")
		lists       = flag.Int("lists", 2, "command lists recorded in parallel")
		size        = flag.Int("size", 256, "render target and texture size")
		output      = flag.String("output", "", "write the generated mip chain to this PNG (software backend only)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	rhi.SetLogger(logger)

	if err := run(logger, *backendName, *frames, *inFlight, *lists, uint32(*size), *output); err != nil {
		log.Fatalf("rhidemo: %v", err)
	}
}

type scene struct {
	vs, fs  *rhi.Shader
	checker *rhi.Texture
	tint    *rhi.Buffer
	targets []*rhi.Texture
}

func run(logger *slog.Logger, name string, frames, inFlight, n int, size uint32, output string) error {
	d, err := rhi.Open(name, rhi.WithFramesInFlight(inFlight), rhi.WithLabel("rhidemo"))
	if err != nil {
		return err
	}
	defer d.Destroy()
	logger.Info("device opened", "backend", d.GPU().Name(), "available", backend.Available())

	sc, err := newScene(d, size, n)
	if err != nil {
		return err
	}
	defer sc.destroy()

	cls := make([]*rhi.CommandList, n)
	for i := range cls {
		if cls[i], err = d.NewCommandList(fmt.Sprintf("list %d", i)); err != nil {
			return err
		}
		defer cls[i].Destroy()
	}

	start := time.Now()
	ctx := context.Background()
	for f := range frames {
		err := rhi.RecordParallel(ctx, cls, func(_ context.Context, i int, cl *rhi.CommandList) error {
			return sc.record(cl, i, f)
		})
		if err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
		if err := rhi.SubmitAll(cls...); err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
	}
	if err := d.WaitIdle(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	for _, cl := range cls {
		s := cl.Stats()
		logger.Info("list stats",
			"list", cl.Label(),
			"frames", s.Frames,
			"draws", s.Draws,
			"barriers", s.Barriers,
			"elided", s.BarriersElided,
			"bindings", s.BindingUpdates,
			"fence_waits", s.FenceWaits)
	}
	hits, misses := d.PipelineCache().Stats()
	logger.Info("pipeline cache", "size", d.PipelineCache().Size(), "hits", hits, "misses", misses,
		"hit_rate", fmt.Sprintf("%.3f", d.PipelineCache().HitRate()))
	logger.Info("done", "frames", frames*n, "elapsed", elapsed,
		"per_frame", elapsed/time.Duration(max(frames, 1)))

	if output != "" {
		return writeMipChain(sc.checker, output)
	}
	return nil
}

func newScene(d *rhi.Device, size uint32, targets int) (*scene, error) {
	sc := &scene{}
	var err error
	if sc.vs, err = d.NewShader(rhi.ShaderDescriptor{
		Label: "fullscreen vs",
		Stage: gputypes.ShaderStageVertex,
		WGSL:  vsSource,
	}); err != nil {
		return nil, err
	}
	if sc.fs, err = d.NewShader(rhi.ShaderDescriptor{
		Label: "checker fs",
		Stage: gputypes.ShaderStageFragment,
		WGSL:  fsSource,
		Bindings: []rhi.ShaderBinding{
			{Slot: 0, Kind: backend.BindingTexture},
			{Slot: 1, Kind: backend.BindingSampler},
			{Slot: 2, Kind: backend.BindingUniformBuffer},
		},
	}); err != nil {
		sc.destroy()
		return nil, err
	}
	if sc.checker, err = d.NewTexture(rhi.TextureDescriptor{
		Label:  "checker",
		Width:  size,
		Height: size,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Flags:  rhi.TextureShaderRead | rhi.TextureGenerateMips | rhi.TexturePerMipViews,
		Data:   [][]byte{checkerboard(size, 16)},
	}); err != nil {
		sc.destroy()
		return nil, err
	}
	if sc.tint, err = d.NewBuffer(rhi.BufferDescriptor{
		Label: "tint",
		Kind:  rhi.BufferConstant,
		Data:  []byte{0, 0, 0x80, 0x3f, 0, 0, 0x80, 0x3f, 0, 0, 0x80, 0x3f, 0, 0, 0x80, 0x3f},
	}); err != nil {
		sc.destroy()
		return nil, err
	}
	for i := range targets {
		t, err := d.NewTexture(rhi.TextureDescriptor{
			Label:  fmt.Sprintf("target %d", i),
			Width:  size,
			Height: size,
			Format: gputypes.TextureFormatRGBA8Unorm,
			Flags:  rhi.TextureRenderTarget | rhi.TextureShaderRead,
		})
		if err != nil {
			sc.destroy()
			return nil, err
		}
		sc.targets = append(sc.targets, t)
	}
	return sc, nil
}

// record draws one frame: a cleared pass sampling the checker texture,
// with every other frame blended on top of the previous contents.
func (sc *scene) record(cl *rhi.CommandList, i, frame int) error {
	ps := cl.PipelineState()
	ps.VertexShader, ps.PixelShader = sc.vs, sc.fs
	ps.RenderTargets[0], ps.RenderTargetCount = sc.targets[i], 1
	ps.Clear = rhi.ClearColor
	ps.ClearValue = gputypes.Color{R: 0.1, G: 0.1, B: 0.2, A: 1}
	if frame%2 == 1 {
		ps.Blend = rhi.BlendAlpha
	}
	if err := cl.Begin(fmt.Sprintf("frame %d", frame)); err != nil {
		return err
	}
	if err := cl.SetTexture(0, sc.checker); err != nil {
		return err
	}
	if err := cl.SetConstantBuffer(2, sc.tint); err != nil {
		return err
	}
	if err := cl.Draw(3); err != nil {
		return err
	}
	return cl.End()
}

func (sc *scene) destroy() {
	for _, t := range sc.targets {
		t.Destroy()
	}
	sc.targets = nil
	if sc.tint != nil {
		sc.tint.Destroy()
	}
	if sc.checker != nil {
		sc.checker.Destroy()
	}
	if sc.fs != nil {
		sc.fs.Destroy()
	}
	if sc.vs != nil {
		sc.vs.Destroy()
	}
}

func checkerboard(size, cell uint32) []byte {
	px := make([]byte, size*size*4)
	for y := range size {
		for x := range size {
			o := (y*size + x) * 4
			v := byte(0x20)
			if (x/cell+y/cell)%2 == 0 {
				v = 0xe0
			}
			px[o], px[o+1], px[o+2], px[o+3] = v, v, v, 0xff
		}
	}
	return px
}

// writeMipChain lays the texture's mip levels side by side, each scaled
// back up to the base size.
func writeMipChain(t *rhi.Texture, path string) error {
	st, ok := t.Handle().(*software.Texture)
	if !ok {
		return fmt.Errorf("-output needs the software backend")
	}
	w, h := int(t.Width()), int(t.Height())
	mips := t.MipLevels()
	out := image.NewRGBA(image.Rect(0, 0, w*mips, h))

	for mip := range mips {
		mw, mh := max(w>>mip, 1), max(h>>mip, 1)
		pitch := alignRow(mw * 4)
		data := st.Data(uint32(mip))
		if len(data) < pitch*(mh-1)+mw*4 {
			return fmt.Errorf("mip %d holds %d bytes", mip, len(data))
		}
		level := &image.RGBA{Pix: data, Stride: pitch, Rect: image.Rect(0, 0, mw, mh)}
		dst := image.Rect(mip*w, 0, (mip+1)*w, h)
		draw.NearestNeighbor.Scale(out, dst, level, level.Bounds(), draw.Src, nil)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func alignRow(n int) int {
	const alignment = 256
	return (n + alignment - 1) &^ (alignment - 1)
}
