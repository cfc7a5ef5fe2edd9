package tokenizer

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/guru-systems/phi4-mini/internal/gguf"
	"github.com/guru-systems/phi4-mini/internal/metrics"
)

// Token types as stored in tokenizer.ggml.token_type.
const (
	TypeNormal      int32 = 1
	TypeUnknown     int32 = 2
	TypeControl     int32 = 3
	TypeUserDefined int32 = 4
	TypeUnused      int32 = 5
	TypeByte        int32 = 6
)

const spmSpace = "▁"

// Vocab is everything needed to build a Tokenizer without a GGUF file.
type Vocab struct {
	Model  string // "gpt2", "llama" or empty for greedy matching
	Tokens []string
	Types  []int32 // optional, same length as Tokens
	Merges []string
	BOS    int64
	EOS    int64
	Unk    int64
	AddBOS bool
}

// Tokenizer encodes and decodes text against a fixed vocabulary. It holds no
// mutable state after construction and is safe for concurrent use.
type Tokenizer struct {
	model    string
	tokens   []string
	types    []int32
	vocab    map[string]int64
	ranks    map[string]int
	trie     *trieNode
	specials []string // longest first
	byteTok  [256]int64
	byteEnc  [256]string
	byteDec  map[rune]byte
	bos      int64
	eos      int64
	unk      int64
	addBOS   bool
}

// Load reads the vocabulary from a GGUF file.
func Load(path string) (*Tokenizer, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return FromGGUF(f)
}

func FromGGUF(f *gguf.File) (*Tokenizer, error) {
	tokens, err := f.Strings(gguf.KeyTokens)
	if err != nil {
		return nil, err
	}
	types, err := f.Int32s(gguf.KeyTokenTypes)
	if err != nil {
		return nil, err
	}
	v := Vocab{Tokens: tokens, Types: types}
	v.Model, _ = f.String(gguf.KeyTokenizerModel)
	if _, ok := f.KV[gguf.KeyMerges]; ok {
		if v.Merges, err = f.Strings(gguf.KeyMerges); err != nil {
			return nil, err
		}
	}
	if id, ok := f.Uint(gguf.KeyBOSTokenID); ok {
		v.BOS = int64(id)
	}
	if id, ok := f.Uint(gguf.KeyEOSTokenID); ok {
		v.EOS = int64(id)
	}
	if id, ok := f.Uint(gguf.KeyUnknownTokenID); ok {
		v.Unk = int64(id)
	}
	v.AddBOS = v.Model == "llama"
	if b, ok := f.Bool(gguf.KeyAddBOS); ok {
		v.AddBOS = b
	}
	return New(v)
}

func New(v Vocab) (*Tokenizer, error) {
	if len(v.Tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	if v.Types != nil && len(v.Types) != len(v.Tokens) {
		return nil, fmt.Errorf("token_type has %d entries for %d tokens", len(v.Types), len(v.Tokens))
	}
	n := int64(len(v.Tokens))
	for name, id := range map[string]int64{"bos": v.BOS, "eos": v.EOS, "unk": v.Unk} {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("%s token id %d outside vocabulary of %d", name, id, n)
		}
	}

	t := &Tokenizer{
		model:  v.Model,
		tokens: v.Tokens,
		types:  v.Types,
		vocab:  make(map[string]int64, len(v.Tokens)),
		ranks:  make(map[string]int, len(v.Merges)),
		trie:   newTrieNode(),
		bos:    v.BOS,
		eos:    v.EOS,
		unk:    v.Unk,
		addBOS: v.AddBOS,
	}
	for i := range t.byteTok {
		t.byteTok[i] = t.unk
	}
	for i, piece := range v.Tokens {
		id := int64(i)
		if _, dup := t.vocab[piece]; !dup {
			t.vocab[piece] = id
		}
		if t.isSpecial(id) && piece != "" {
			t.specials = append(t.specials, piece)
			continue
		}
		t.trie.insert(piece, id)
		if b, ok := parseByteToken(piece); ok {
			t.byteTok[b] = id
		}
	}
	sort.SliceStable(t.specials, func(i, j int) bool {
		return len(t.specials[i]) > len(t.specials[j])
	})

	for i, m := range v.Merges {
		left, right, ok := strings.Cut(m, " ")
		if !ok {
			continue
		}
		if _, dup := t.ranks[left+"\x00"+right]; !dup {
			t.ranks[left+"\x00"+right] = i
		}
	}
	if t.model == "" && len(t.ranks) > 0 {
		t.model = "gpt2"
	}

	t.byteEnc = buildByteEncoder()
	t.byteDec = make(map[rune]byte, 256)
	for b, s := range t.byteEnc {
		r, _ := utf8.DecodeRuneInString(s)
		t.byteDec[r] = byte(b)
	}
	return t, nil
}

func (t *Tokenizer) VocabSize() int { return len(t.tokens) }
func (t *Tokenizer) BOS() int64     { return t.bos }
func (t *Tokenizer) EOS() int64     { return t.eos }
func (t *Tokenizer) Model() string  { return t.model }

func (t *Tokenizer) isSpecial(id int64) bool {
	if t.types == nil {
		return false
	}
	typ := t.types[id]
	return typ == TypeControl || typ == TypeUserDefined
}

func (t *Tokenizer) isControl(id int64) bool {
	if t.types == nil {
		return id == t.bos || id == t.eos
	}
	return t.types[id] == TypeControl
}

// Encode splits out special tokens literally, then encodes each plain
// segment with the vocabulary's model.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	start := time.Now()
	out := make([]int64, 0, len(text)/2+1)
	if addSpecialTokens && t.addBOS {
		out = append(out, t.bos)
	}

	first := true
	for len(text) > 0 {
		idx, special := t.nextSpecial(text)
		if idx > 0 {
			out = append(out, t.encodeSegment(text[:idx], first)...)
			first = false
		}
		if special == "" {
			break
		}
		out = append(out, t.vocab[special])
		first = false
		text = text[idx+len(special):]
	}

	metrics.RecordTokenizerEncode(len(out), time.Since(start))
	return out, nil
}

// nextSpecial finds the earliest special token in text. When none occurs,
// idx is len(text).
func (t *Tokenizer) nextSpecial(text string) (idx int, special string) {
	idx = len(text)
	for _, s := range t.specials {
		i := strings.Index(text, s)
		if i >= 0 && i < idx {
			idx, special = i, s
		}
	}
	return idx, special
}

func (t *Tokenizer) encodeSegment(seg string, first bool) []int64 {
	switch {
	case t.model == "llama":
		s := strings.ReplaceAll(seg, " ", spmSpace)
		if first {
			s = spmSpace + s
		}
		return t.encodeGreedy(s)
	case t.model == "gpt2" && len(t.ranks) > 0:
		var out []int64
		for _, piece := range splitPieces(seg) {
			out = append(out, t.encodeBPEWord(t.byteMap(piece))...)
		}
		return out
	default:
		return t.encodeGreedy(seg)
	}
}

func (t *Tokenizer) byteMap(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		sb.WriteString(t.byteEnc[s[i]])
	}
	return sb.String()
}

func (t *Tokenizer) encodeBPEWord(word string) []int64 {
	if word == "" {
		return nil
	}
	syms := make([]string, 0, len(word))
	for _, r := range word {
		syms = append(syms, string(r))
	}
	for len(syms) > 1 {
		best, bestIdx := int(^uint(0)>>1), -1
		for i := 0; i < len(syms)-1; i++ {
			if rank, ok := t.ranks[syms[i]+"\x00"+syms[i+1]]; ok && rank < best {
				best, bestIdx = rank, i
			}
		}
		if bestIdx < 0 {
			break
		}
		syms[bestIdx] += syms[bestIdx+1]
		syms = append(syms[:bestIdx+1], syms[bestIdx+2:]...)
	}

	out := make([]int64, 0, len(syms))
	for _, s := range syms {
		if id, ok := t.vocab[s]; ok {
			out = append(out, id)
			continue
		}
		for _, r := range s {
			if id, ok := t.vocab[string(r)]; ok {
				out = append(out, id)
			} else {
				out = append(out, t.unk)
			}
		}
	}
	return out
}

// encodeGreedy takes the longest vocabulary match at each position and
// falls back to byte tokens.
func (t *Tokenizer) encodeGreedy(text string) []int64 {
	out := make([]int64, 0, len(text))
	for i := 0; i < len(text); {
		if n, id := t.trie.longest(text, i); n > 0 {
			out = append(out, id)
			i += n
			continue
		}
		out = append(out, t.byteTok[text[i]])
		i++
	}
	return out
}

// Decode maps ids back to text. Ids outside the vocabulary are an error.
func (t *Tokenizer) Decode(ids []int64, skipSpecialTokens bool) (string, error) {
	var raw []byte
	for _, id := range ids {
		if id < 0 || id >= int64(len(t.tokens)) {
			return "", fmt.Errorf("token id %d outside vocabulary of %d", id, len(t.tokens))
		}
		if skipSpecialTokens && t.isControl(id) {
			continue
		}
		piece := t.tokens[id]
		if t.isSpecial(id) {
			raw = append(raw, piece...)
			continue
		}
		if b, ok := parseByteToken(piece); ok {
			raw = append(raw, b)
			continue
		}
		switch t.model {
		case "gpt2":
			raw = t.unmapBytes(raw, piece)
		case "llama":
			raw = append(raw, strings.ReplaceAll(piece, spmSpace, " ")...)
		default:
			raw = append(raw, piece...)
		}
	}

	text := string(raw)
	if t.model == "llama" && len(ids) > 0 {
		text = strings.TrimPrefix(text, " ")
	}
	return strings.ToValidUTF8(text, "�"), nil
}

func (t *Tokenizer) unmapBytes(dst []byte, piece string) []byte {
	for _, r := range piece {
		if b, ok := t.byteDec[r]; ok {
			dst = append(dst, b)
		} else {
			dst = utf8.AppendRune(dst, r)
		}
	}
	return dst
}

// splitPieces is the GPT-2 pre-tokenizer: contractions, optionally
// space-led runs of letters, digits or symbols, and whitespace where a
// trailing space binds to the next word.
func splitPieces(s string) []string {
	rs := []rune(s)
	out := make([]string, 0, len(rs)/3+1)
	for i := 0; i < len(rs); {
		if rs[i] == '\'' && i+1 < len(rs) {
			switch next := rs[i+1]; {
			case next == 's' || next == 't' || next == 'm' || next == 'd':
				out = append(out, string(rs[i:i+2]))
				i += 2
				continue
			case i+2 < len(rs) && (next == 'r' && rs[i+2] == 'e' || next == 'v' && rs[i+2] == 'e' || next == 'l' && rs[i+2] == 'l'):
				out = append(out, string(rs[i:i+3]))
				i += 3
				continue
			}
		}

		j := i
		if rs[i] == ' ' {
			j++
		}
		if j < len(rs) {
			var class func(rune) bool
			switch r := rs[j]; {
			case unicode.IsLetter(r):
				class = unicode.IsLetter
			case unicode.IsNumber(r):
				class = unicode.IsNumber
			case !unicode.IsSpace(r):
				class = isSymbol
			}
			if class != nil {
				k := j
				for k < len(rs) && class(rs[k]) {
					k++
				}
				out = append(out, string(rs[i:k]))
				i = k
				continue
			}
		}

		k := i
		for k < len(rs) && unicode.IsSpace(rs[k]) {
			k++
		}
		if k-i > 1 && k < len(rs) {
			k--
		}
		out = append(out, string(rs[i:k]))
		i = k
	}
	return out
}

func isSymbol(r rune) bool {
	return !unicode.IsSpace(r) && !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

func buildByteEncoder() [256]string {
	var enc [256]string
	bs := make([]int, 0, 256)
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := 0xA1; i <= 0xAC; i++ {
		bs = append(bs, i)
	}
	for i := 0xAE; i <= 0xFF; i++ {
		bs = append(bs, i)
	}
	seen := make(map[int]bool, len(bs))
	for _, v := range bs {
		seen[v] = true
	}
	cs := append([]int(nil), bs...)
	n := 0
	for b := 0; b < 256; b++ {
		if seen[b] {
			continue
		}
		bs = append(bs, b)
		cs = append(cs, 256+n)
		n++
	}
	for i := range bs {
		enc[bs[i]] = string(rune(cs[i]))
	}
	return enc
}

func parseByteToken(piece string) (byte, bool) {
	if len(piece) != 6 || piece[0] != '<' || piece[1] != '0' || piece[2] != 'x' || piece[5] != '>' {
		return 0, false
	}
	var v byte
	for _, c := range []byte(piece[3:5]) {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		case c >= 'a' && c <= 'f':
			v |= c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v |= c - 'A' + 10
		default:
			return 0, false
		}
	}
	return v, true
}

type trieNode struct {
	children map[byte]*trieNode
	hasID    bool
	id       int64
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

func (n *trieNode) insert(piece string, id int64) {
	cur := n
	for i := 0; i < len(piece); i++ {
		child, ok := cur.children[piece[i]]
		if !ok {
			child = newTrieNode()
			cur.children[piece[i]] = child
		}
		cur = child
	}
	if !cur.hasID {
		cur.hasID = true
		cur.id = id
	}
}

func (n *trieNode) longest(text string, start int) (length int, id int64) {
	cur := n
	for i := start; i < len(text); i++ {
		child, ok := cur.children[text[i]]
		if !ok {
			break
		}
		cur = child
		if cur.hasID {
			length, id = i-start+1, cur.id
		}
	}
	return length, id
}
