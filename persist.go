package seq2seq

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	estimatorMagic   int32 = 20241015
	estimatorVersion int32 = 1
	// maxRecordLength bounds the JSON record of a stored estimator.
	maxRecordLength = 64 << 20
)

type estimatorRecord struct {
	Config       Config        `json:"config"`
	Vocabularies *Vocabularies `json:"vocabularies,omitempty"`
	Lowercase    bool          `json:"fitted_lowercase,omitempty"`
}

// MarshalBinary encodes the configuration and, when fitted, the
// vocabularies and network weights.
func (e *Estimator) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores an estimator written by MarshalBinary.
func (e *Estimator) UnmarshalBinary(data []byte) error {
	return e.Load(bytes.NewReader(data))
}

// Save writes a small int32 header, a JSON record of the configuration and
// vocabularies, and then the network.
func (e *Estimator) Save(w io.Writer) error {
	model := e.model.Load()
	record := estimatorRecord{Config: e.Config}
	if model != nil {
		record.Vocabularies = &model.Vocabularies
		record.Lowercase = model.Lowercase
	}
	js, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "error encoding estimator record")
	}
	var fitted int32
	if model != nil {
		fitted = 1
	}
	header := []int32{estimatorMagic, estimatorVersion, fitted, int32(len(js))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "error writing estimator header")
	}
	if _, err := w.Write(js); err != nil {
		return errors.Wrap(err, "error writing estimator record")
	}
	if model != nil {
		if _, err := model.Network.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the configuration and fitted state with those read from r.
// Nothing is changed when r cannot be decoded.
func (e *Estimator) Load(r io.Reader) error {
	header := make([]int32, 4)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "error reading estimator header")
	}
	if header[0] != estimatorMagic {
		return errors.Errorf("bad estimator magic %d", header[0])
	}
	if header[1] != estimatorVersion {
		return errors.Errorf("unsupported estimator version %d", header[1])
	}
	if header[3] < 0 || header[3] > maxRecordLength {
		return errors.Errorf("bad estimator record length %d", header[3])
	}
	js := make([]byte, header[3])
	if _, err := io.ReadFull(r, js); err != nil {
		return errors.Wrap(err, "error reading estimator record")
	}
	var record estimatorRecord
	if err := json.Unmarshal(js, &record); err != nil {
		return errors.Wrap(err, "error decoding estimator record")
	}
	// an unfitted estimator keeps its configuration as it was, valid or not
	var model *FittedModel
	if header[2] != 0 {
		if err := record.Config.Validate(); err != nil {
			return errors.Wrap(err, "stored configuration is invalid")
		}
		if record.Vocabularies == nil {
			return errors.New("fitted estimator without vocabularies")
		}
		vocabs := *record.Vocabularies
		if err := vocabs.check(); err != nil {
			return err
		}
		net, err := readLSTM(r, LSTMConfig{
			InputVocabSize:      vocabs.Input.Len(),
			TargetVocabSize:     vocabs.Target.Len(),
			LatentDim:           record.Config.LatentDim,
			MaxEncoderSeqLength: vocabs.MaxEncoderSeqLength,
			MaxDecoderSeqLength: vocabs.MaxDecoderSeqLength,
		})
		if err != nil {
			return err
		}
		net.Optimizer = record.Config.optimizer()
		model = newFittedModel(vocabs, record.Lowercase, net)
	}
	e.Config = record.Config
	e.model.Store(model)
	return nil
}

// SaveFile writes the estimator to the named file.
func (e *Estimator) SaveFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", name)
	}
	if err := e.Save(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "error closing %s", name)
}

// LoadEstimator reads an estimator saved with SaveFile.
func LoadEstimator(name string, opts ...Option) (*Estimator, error) {
	f, err := Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening %s", name)
	}
	defer f.Close()
	e := NewEstimator(DefaultConfig(), opts...)
	if err := e.Load(f); err != nil {
		return nil, errors.Wrapf(err, "error loading %s", name)
	}
	return e, nil
}
