package rhi

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// ShaderBinding declares a resource slot a shader reads. Shaders are not
// reflected; the layout is declared by the caller.
type ShaderBinding struct {
	Slot uint32
	Kind backend.BindingKind
}

// ShaderDescriptor describes a shader stage. Exactly one of WGSL or SPIRV
// is set.
type ShaderDescriptor struct {
	Label      string
	Stage      gputypes.ShaderStage
	EntryPoint string
	WGSL       string
	SPIRV      []uint32
	Bindings   []ShaderBinding
}

// Shader is a prepared shader stage.
type Shader struct {
	id       uint64
	label    string
	stage    gputypes.ShaderStage
	entry    string
	codeHash uint64
	bindings []ShaderBinding
	module   backend.ShaderModule
}

var shaderIDCounter atomic.Uint64

// NewShader creates a shader module on the device.
func (d *Device) NewShader(desc ShaderDescriptor) (*Shader, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc.WGSL == "" && len(desc.SPIRV) == 0 {
		return nil, fmt.Errorf("%w: shader %q has no source", ErrInvalidDescriptor, desc.Label)
	}

	entry := desc.EntryPoint
	if entry == "" {
		entry = defaultEntryPoint(desc.Stage)
	}

	module, err := d.gpu.NewShaderModule(&backend.ShaderModuleDescriptor{
		Label:      desc.Label,
		Stage:      desc.Stage,
		EntryPoint: entry,
		WGSL:       desc.WGSL,
		SPIRV:      desc.SPIRV,
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: create shader %q: %w", desc.Label, err)
	}

	return &Shader{
		id:       shaderIDCounter.Add(1),
		label:    desc.Label,
		stage:    desc.Stage,
		entry:    entry,
		codeHash: hashShaderSource(desc.WGSL, desc.SPIRV),
		bindings: append([]ShaderBinding(nil), desc.Bindings...),
		module:   module,
	}, nil
}

func defaultEntryPoint(stage gputypes.ShaderStage) string {
	switch stage {
	case gputypes.ShaderStageFragment:
		return "fs_main"
	case gputypes.ShaderStageCompute:
		return "cs_main"
	}
	return "vs_main"
}

func hashShaderSource(wgsl string, spirv []uint32) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(wgsl))
	var buf [4]byte
	for _, w := range spirv {
		binary.LittleEndian.PutUint32(buf[:], w)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// ID returns the shader's unique identifier.
func (s *Shader) ID() uint64 { return s.id }

// Label returns the shader's debug label.
func (s *Shader) Label() string { return s.label }

// Stage returns the shader stage.
func (s *Shader) Stage() gputypes.ShaderStage { return s.stage }

// EntryPoint returns the entry point name.
func (s *Shader) EntryPoint() string { return s.entry }

// CodeHash returns the hash of the shader source.
func (s *Shader) CodeHash() uint64 { return s.codeHash }

// Bindings returns the declared resource slots.
func (s *Shader) Bindings() []ShaderBinding {
	return append([]ShaderBinding(nil), s.bindings...)
}

// Destroy releases the shader module. Pipelines already compiled from the
// shader stay valid.
func (s *Shader) Destroy() {
	if s.module != nil {
		s.module.Destroy()
		s.module = nil
	}
}
