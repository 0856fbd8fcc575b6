package gpucore

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ComputePipelineID is an opaque handle to a compute pipeline together with
// its bind group layout.
type ComputePipelineID uint64

// SubmissionID is an opaque handle to one accepted Submit call.
type SubmissionID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be read back by the host.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7
)

// Has reports whether all bits of flag are set.
func (u BufferUsage) Has(flag BufferUsage) bool { return u&flag == flag }

// BindingType specifies the type of a compute shader buffer binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniform is a uniform buffer binding.
	BindingTypeUniform BindingType = iota + 1

	// BindingTypeStorage is a read-write storage buffer binding.
	BindingTypeStorage

	// BindingTypeReadOnlyStorage is a read-only storage buffer binding.
	BindingTypeReadOnlyStorage
)

func (t BindingType) String() string {
	switch t {
	case BindingTypeUniform:
		return "uniform"
	case BindingTypeStorage:
		return "storage"
	case BindingTypeReadOnlyStorage:
		return "read-only storage"
	}
	return "invalid"
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// BindGroupLayoutEntry describes one binding slot of group 0.
type BindGroupLayoutEntry struct {
	Binding uint32
	Type    BindingType
	// MinBindingSize is the smallest buffer size the shader accepts.
	// Zero means no minimum.
	MinBindingSize uint64
}

// ComputePipelineDesc describes a compute pipeline compiled from WGSL.
// All bindings live in group 0.
type ComputePipelineDesc struct {
	Label      string
	Source     string
	EntryPoint string
	Entries    []BindGroupLayoutEntry
}

// BufferBinding binds a buffer range to a layout slot. A zero Size binds
// the remainder of the buffer.
type BufferBinding struct {
	Binding uint32
	Buffer  BufferID
	Offset  uint64
	Size    uint64
}

// CopyDesc describes a buffer-to-buffer copy recorded after the dispatch.
type CopyDesc struct {
	Src  BufferID
	Dst  BufferID
	Size uint64
}

// DispatchDesc describes one compute dispatch and an optional readback copy.
type DispatchDesc struct {
	Label      string
	Pipeline   ComputePipelineID
	Bindings   []BufferBinding
	Workgroups [3]uint32
	// Copy, when non-nil, is recorded into the same command buffer after
	// the compute pass.
	Copy *CopyDesc
}

// Capabilities reports device limits relevant to compute dispatch.
type Capabilities struct {
	// Name is the adapter name for diagnostics.
	Name string
	// MaxWorkgroupsPerDimension bounds each element of DispatchDesc.Workgroups.
	MaxWorkgroupsPerDimension uint32
	// MaxBufferSize bounds BufferDesc.Size.
	MaxBufferSize uint64
}

// DefaultCapabilities returns the WebGPU baseline limits.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Name:                      "default",
		MaxWorkgroupsPerDimension: 65535,
		MaxBufferSize:             256 << 20,
	}
}
