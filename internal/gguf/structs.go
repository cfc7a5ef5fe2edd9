package gguf

import "fmt"

const (
	GGUFMagic   = 0x46554747 // "GGUF"
	GGUFVersion = 3
)

type GGUFMetadataValueType uint32

const (
	GGUFMetadataValueTypeUint8   GGUFMetadataValueType = 0
	GGUFMetadataValueTypeInt8    GGUFMetadataValueType = 1
	GGUFMetadataValueTypeUint16  GGUFMetadataValueType = 2
	GGUFMetadataValueTypeInt16   GGUFMetadataValueType = 3
	GGUFMetadataValueTypeUint32  GGUFMetadataValueType = 4
	GGUFMetadataValueTypeInt32   GGUFMetadataValueType = 5
	GGUFMetadataValueTypeFloat32 GGUFMetadataValueType = 6
	GGUFMetadataValueTypeBool    GGUFMetadataValueType = 7
	GGUFMetadataValueTypeString  GGUFMetadataValueType = 8
	GGUFMetadataValueTypeArray   GGUFMetadataValueType = 9
	GGUFMetadataValueTypeUint64  GGUFMetadataValueType = 10
	GGUFMetadataValueTypeInt64   GGUFMetadataValueType = 11
	GGUFMetadataValueTypeFloat64 GGUFMetadataValueType = 12
)

// Well-known metadata keys.
const (
	KeyArchitecture   = "general.architecture"
	KeyName           = "general.name"
	KeyTokenizerModel = "tokenizer.ggml.model"
	KeyTokens         = "tokenizer.ggml.tokens"
	KeyTokenTypes     = "tokenizer.ggml.token_type"
	KeyMerges         = "tokenizer.ggml.merges"
	KeyBOSTokenID     = "tokenizer.ggml.bos_token_id"
	KeyEOSTokenID     = "tokenizer.ggml.eos_token_id"
	KeyPadTokenID     = "tokenizer.ggml.padding_token_id"
	KeyUnknownTokenID = "tokenizer.ggml.unknown_token_id"
	KeyAddBOS         = "tokenizer.ggml.add_bos_token"
)

// File is the header and metadata section of a GGUF file. Tensor data is
// never read.
type File struct {
	Header GGUFHeader
	KV     map[string]interface{}
	Keys   []string // in file order
}

type GGUFHeader struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// Error types
type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid GGUF magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported GGUF version: %d", e.Version)
}

func (t GGUFMetadataValueType) String() string {
	switch t {
	case GGUFMetadataValueTypeUint8:
		return "uint8"
	case GGUFMetadataValueTypeInt8:
		return "int8"
	case GGUFMetadataValueTypeUint16:
		return "uint16"
	case GGUFMetadataValueTypeInt16:
		return "int16"
	case GGUFMetadataValueTypeUint32:
		return "uint32"
	case GGUFMetadataValueTypeInt32:
		return "int32"
	case GGUFMetadataValueTypeFloat32:
		return "float32"
	case GGUFMetadataValueTypeBool:
		return "bool"
	case GGUFMetadataValueTypeString:
		return "string"
	case GGUFMetadataValueTypeArray:
		return "array"
	case GGUFMetadataValueTypeUint64:
		return "uint64"
	case GGUFMetadataValueTypeInt64:
		return "int64"
	case GGUFMetadataValueTypeFloat64:
		return "float64"
	default:
		return fmt.Sprintf("UNKNOWN_VALUE_TYPE_%d", uint32(t))
	}
}
