package seq2seq

// Tensor is a dense row-major float32 array.
type Tensor struct {
	data []float32
	dims []int
}

// NewTensor allocates a zeroed tensor of the given dimensions.
func NewTensor(dims ...int) Tensor {
	t, _ := newTensor(make([]float32, product(dims)), dims...)
	return t
}

func (t Tensor) Data() []float32 {
	return t.data
}

func (t Tensor) Dims() []int {
	return t.dims
}

// At returns the element at the given full index.
func (t Tensor) At(idx ...int) float32 {
	if len(idx) != len(t.dims) {
		panic("At needs one index per dimension")
	}
	return t.index(idx...).data[0]
}

func product(dims []int) int {
	s := 1
	for _, d := range dims {
		s *= d
	}
	return s
}

func newTensor(data []float32, dims ...int) (Tensor, int) {
	s := product(dims)
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	return Tensor{
		data: data[:s],
		dims: dims,
	}, s
}

func (t Tensor) size() int {
	return product(t.dims)
}

// index returns the sub-tensor addressed by the leading indices.
func (t Tensor) index(idx ...int) Tensor {
	if len(idx) > len(t.dims) {
		panic("Too many indices for tensor dimensions")
	}
	for i, dim := range idx {
		if dim < 0 || dim >= t.dims[i] {
			panic("Index out of bounds")
		}
	}
	linearIndex := 0
	stride := t.size()
	for i := 0; i < len(idx); i++ {
		stride /= t.dims[i]
		linearIndex += idx[i] * stride
	}
	newDims := t.dims[len(idx):]
	end := linearIndex + t.subTensorSize(idx)
	return Tensor{
		data: t.data[linearIndex:end],
		dims: newDims,
	}
}

func (t Tensor) subTensorSize(idx []int) int {
	return product(t.dims[len(idx):])
}

// ParameterTensors are the weights of the encoder-decoder. The encoder and
// decoder views used at inference time read the same Memory.
type ParameterTensors struct {
	Memory []float32
	EncWx  Tensor // (4H, Vin) - encoder input kernel, gates ordered i, f, g, o
	EncWh  Tensor // (4H, H) - encoder recurrent kernel
	EncB   Tensor // (4H) - encoder bias
	DecWx  Tensor // (4H, Vout) - decoder input kernel
	DecWh  Tensor // (4H, H) - decoder recurrent kernel
	DecB   Tensor // (4H) - decoder bias
	OutW   Tensor // (Vout, H) - softmax projection weights
	OutB   Tensor // (Vout) - softmax projection bias
}

// Init lays out all parameters over one slab.
func (tensor *ParameterTensors) Init(Vin, Vout, H int) {
	tensor.Memory = make([]float32,
		4*H*Vin+ // EncWx
			4*H*H+ // EncWh
			4*H+ // EncB
			4*H*Vout+ // DecWx
			4*H*H+ // DecWh
			4*H+ // DecB
			Vout*H+ // OutW
			Vout, // OutB
	)
	var ptr int
	memPtr := tensor.Memory
	tensor.EncWx, ptr = newTensor(memPtr, 4*H, Vin)
	memPtr = memPtr[ptr:]
	tensor.EncWh, ptr = newTensor(memPtr, 4*H, H)
	memPtr = memPtr[ptr:]
	tensor.EncB, ptr = newTensor(memPtr, 4*H)
	memPtr = memPtr[ptr:]
	tensor.DecWx, ptr = newTensor(memPtr, 4*H, Vout)
	memPtr = memPtr[ptr:]
	tensor.DecWh, ptr = newTensor(memPtr, 4*H, H)
	memPtr = memPtr[ptr:]
	tensor.DecB, ptr = newTensor(memPtr, 4*H)
	memPtr = memPtr[ptr:]
	tensor.OutW, ptr = newTensor(memPtr, Vout, H)
	memPtr = memPtr[ptr:]
	tensor.OutB, ptr = newTensor(memPtr, Vout)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("parameter layout does not cover memory")
	}
}

func (tensor *ParameterTensors) Len() int {
	return len(tensor.Memory)
}

// ActivationTensors hold everything the backward pass needs from the forward
// pass. They are sized for a maximum batch B; smaller batches use a prefix of
// each tensor since the batch dimension is outermost.
type ActivationTensors struct {
	Memory   []float32
	EncGates Tensor // (B, Te, 4H) - input projections, then gate activations
	EncC     Tensor // (B, Te, H) - cell states
	EncTanhC Tensor // (B, Te, H) - tanh of cell states
	EncH     Tensor // (B, Te, H) - hidden states
	DecInitH Tensor // (B, H) - decoder initial hidden state, the encoder's last
	DecInitC Tensor // (B, H) - decoder initial cell state
	DecGates Tensor // (B, Td, 4H)
	DecC     Tensor // (B, Td, H)
	DecTanhC Tensor // (B, Td, H)
	DecH     Tensor // (B, Td, H)
	Logits   Tensor // (B, Td, Vout)
	Probs    Tensor // (B, Td, Vout)
	Losses   Tensor // (B, Td)
}

func (tensor *ActivationTensors) Init(B, Te, Td, H, Vout int) {
	tensor.Memory = make([]float32,
		B*Te*4*H+
			B*Te*H+
			B*Te*H+
			B*Te*H+
			B*H+
			B*H+
			B*Td*4*H+
			B*Td*H+
			B*Td*H+
			B*Td*H+
			B*Td*Vout+
			B*Td*Vout+
			B*Td)
	var ptr int
	memPtr := tensor.Memory
	tensor.EncGates, ptr = newTensor(memPtr, B, Te, 4*H)
	memPtr = memPtr[ptr:]
	tensor.EncC, ptr = newTensor(memPtr, B, Te, H)
	memPtr = memPtr[ptr:]
	tensor.EncTanhC, ptr = newTensor(memPtr, B, Te, H)
	memPtr = memPtr[ptr:]
	tensor.EncH, ptr = newTensor(memPtr, B, Te, H)
	memPtr = memPtr[ptr:]
	tensor.DecInitH, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.DecInitC, ptr = newTensor(memPtr, B, H)
	memPtr = memPtr[ptr:]
	tensor.DecGates, ptr = newTensor(memPtr, B, Td, 4*H)
	memPtr = memPtr[ptr:]
	tensor.DecC, ptr = newTensor(memPtr, B, Td, H)
	memPtr = memPtr[ptr:]
	tensor.DecTanhC, ptr = newTensor(memPtr, B, Td, H)
	memPtr = memPtr[ptr:]
	tensor.DecH, ptr = newTensor(memPtr, B, Td, H)
	memPtr = memPtr[ptr:]
	tensor.Logits, ptr = newTensor(memPtr, B, Td, Vout)
	memPtr = memPtr[ptr:]
	tensor.Probs, ptr = newTensor(memPtr, B, Td, Vout)
	memPtr = memPtr[ptr:]
	tensor.Losses, ptr = newTensor(memPtr, B, Td)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("activation layout does not cover memory")
	}
}
