package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"
)

// maxArrayLen bounds array allocations when a length field is corrupt.
const maxArrayLen = 1 << 24

// LoadFile maps a GGUF file into memory and parses its header and metadata.
// The mapping is released before returning; nothing in the result aliases it.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < 24 {
		return nil, io.ErrUnexpectedEOF
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	defer func() {
		_ = syscall.Munmap(data)
	}()

	return Parse(data)
}

// Parse decodes the header and metadata section from data.
func Parse(data []byte) (*File, error) {
	file := &File{KV: make(map[string]interface{})}

	if len(data) < 24 {
		return nil, io.ErrUnexpectedEOF
	}
	offset := uint64(0)

	file.Header.Magic = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}

	file.Header.Version = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if file.Header.Version < 2 || file.Header.Version > 3 {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}

	file.Header.TensorCount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	file.Header.KVCount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	for i := uint64(0); i < file.Header.KVCount; i++ {
		k, n, err := readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("read kv key[%d]: %w", i, err)
		}
		offset += n

		if err := need(data, offset, 4); err != nil {
			return nil, fmt.Errorf("read kv type[%d]: %w", i, err)
		}
		valType := GGUFMetadataValueType(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		val, n, err := readValue(data, offset, valType)
		if err != nil {
			return nil, fmt.Errorf("read kv %s: %w", k, err)
		}
		offset += n

		if _, dup := file.KV[k]; !dup {
			file.Keys = append(file.Keys, k)
		}
		file.KV[k] = val
	}

	return file, nil
}

func need(data []byte, offset, n uint64) error {
	if offset+n < offset || offset+n > uint64(len(data)) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func readString(data []byte, offset uint64) (string, uint64, error) {
	if err := need(data, offset, 8); err != nil {
		return "", 0, err
	}
	length := binary.LittleEndian.Uint64(data[offset:])
	if err := need(data, offset+8, length); err != nil {
		return "", 0, err
	}
	return string(data[offset+8 : offset+8+length]), 8 + length, nil
}

func scalarSize(typ GGUFMetadataValueType) uint64 {
	switch typ {
	case GGUFMetadataValueTypeUint8, GGUFMetadataValueTypeInt8, GGUFMetadataValueTypeBool:
		return 1
	case GGUFMetadataValueTypeUint16, GGUFMetadataValueTypeInt16:
		return 2
	case GGUFMetadataValueTypeUint32, GGUFMetadataValueTypeInt32, GGUFMetadataValueTypeFloat32:
		return 4
	case GGUFMetadataValueTypeUint64, GGUFMetadataValueTypeInt64, GGUFMetadataValueTypeFloat64:
		return 8
	default:
		return 0
	}
}

func readValue(data []byte, offset uint64, typ GGUFMetadataValueType) (interface{}, uint64, error) {
	switch typ {
	case GGUFMetadataValueTypeString:
		return readString(data, offset)
	case GGUFMetadataValueTypeArray:
		return readArray(data, offset)
	}

	size := scalarSize(typ)
	if size == 0 {
		return nil, 0, fmt.Errorf("unsupported metadata type: %d", typ)
	}
	if err := need(data, offset, size); err != nil {
		return nil, 0, err
	}

	switch typ {
	case GGUFMetadataValueTypeUint8:
		return data[offset], 1, nil
	case GGUFMetadataValueTypeInt8:
		return int8(data[offset]), 1, nil
	case GGUFMetadataValueTypeUint16:
		return binary.LittleEndian.Uint16(data[offset:]), 2, nil
	case GGUFMetadataValueTypeInt16:
		return int16(binary.LittleEndian.Uint16(data[offset:])), 2, nil
	case GGUFMetadataValueTypeUint32:
		return binary.LittleEndian.Uint32(data[offset:]), 4, nil
	case GGUFMetadataValueTypeInt32:
		return int32(binary.LittleEndian.Uint32(data[offset:])), 4, nil
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])), 4, nil
	case GGUFMetadataValueTypeBool:
		return data[offset] != 0, 1, nil
	case GGUFMetadataValueTypeUint64:
		return binary.LittleEndian.Uint64(data[offset:]), 8, nil
	case GGUFMetadataValueTypeInt64:
		return int64(binary.LittleEndian.Uint64(data[offset:])), 8, nil
	default: // GGUFMetadataValueTypeFloat64
		return math.Float64frombits(binary.LittleEndian.Uint64(data[offset:])), 8, nil
	}
}

// readArray decodes string, int32 and float32 arrays into typed slices (the
// vocabulary arrays); other element types become []interface{}.
func readArray(data []byte, offset uint64) (interface{}, uint64, error) {
	if err := need(data, offset, 12); err != nil {
		return nil, 0, err
	}
	arrType := GGUFMetadataValueType(binary.LittleEndian.Uint32(data[offset:]))
	arrLen := binary.LittleEndian.Uint64(data[offset+4:])
	if arrLen > maxArrayLen {
		return nil, 0, fmt.Errorf("array too large: %d elements", arrLen)
	}
	if size := scalarSize(arrType); size > 0 {
		if err := need(data, offset+12, arrLen*size); err != nil {
			return nil, 0, err
		}
	}

	cur := offset + 12
	switch arrType {
	case GGUFMetadataValueTypeString:
		out := make([]string, 0, arrLen)
		for i := uint64(0); i < arrLen; i++ {
			s, n, err := readString(data, cur)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, s)
			cur += n
		}
		return out, cur - offset, nil
	case GGUFMetadataValueTypeInt32:
		out := make([]int32, arrLen)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[cur:]))
			cur += 4
		}
		return out, cur - offset, nil
	case GGUFMetadataValueTypeFloat32:
		out := make([]float32, arrLen)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[cur:]))
			cur += 4
		}
		return out, cur - offset, nil
	}

	out := make([]interface{}, 0, arrLen)
	for i := uint64(0); i < arrLen; i++ {
		val, n, err := readValue(data, cur, arrType)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, val)
		cur += n
	}
	return out, cur - offset, nil
}
