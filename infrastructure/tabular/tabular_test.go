package tabular

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/ahrav/go-anthro/internal/domain"
)

func TestDecode(t *testing.T) {
	t.Run("plain utf-8", func(t *testing.T) {
		got, err := Decode([]byte("sexo,peso_kg\nM,12\n"))
		require.NoError(t, err)
		assert.Equal(t, "sexo,peso_kg\nM,12\n", got)
	})

	t.Run("utf-8 bom stripped", func(t *testing.T) {
		got, err := Decode(append([]byte{0xEF, 0xBB, 0xBF}, []byte("nome\nJoão\n")...))
		require.NoError(t, err)
		assert.Equal(t, "nome\nJoão\n", got)
	})

	t.Run("utf-16le with bom", func(t *testing.T) {
		enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
		payload, err := enc.Bytes([]byte("sexo\tpeso_kg\nF\t9,5\n"))
		require.NoError(t, err)

		got, err := Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, "sexo\tpeso_kg\nF\t9,5\n", got)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, domain.ErrEmptyPayload)
	})

	t.Run("latin-1 bytes rejected", func(t *testing.T) {
		_, err := Decode([]byte("nome\nJo\xe3o\n"))
		assert.ErrorIs(t, err, domain.ErrUndecodablePayload)
	})

	t.Run("whitespace only", func(t *testing.T) {
		_, err := Decode([]byte(" \n\r\n\t "))
		assert.ErrorIs(t, err, domain.ErrNoData)
	})
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		filename string
		want     rune
	}{
		{"comma", "a,b,c\n1,2,3\n", "x.csv", ','},
		{"tab", "a\tb\n1\t2\n", "x.csv", '\t'},
		{"semicolon", "a;b;c\n1;2,5;3\n4;5;6\n", "x.csv", ';'},
		{"quoted commas ignored", "nome;peso\n\"Silva, Ana\";12\n", "x.csv", ';'},
		{"single column falls back to comma", "nome\nAna\n", "x.csv", ','},
		{"single column tsv falls back to tab", "nome\nAna\n", "x.TSV", '\t'},
		{"inconsistent falls back", "a,b\n1,2,3\n", "x.tsv", '\t'},
		{"only first lines sampled", "a,b\n1,2\n3,4\n5,6,7,8\n", "x.csv", ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDelimiter(tt.text, tt.filename, 3))
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "tab", Name('\t'))
	assert.Equal(t, "semicolon", Name(';'))
	assert.Equal(t, "comma", Name(','))
}

func TestReader(t *testing.T) {
	r := NewReader("sexo , peso_kg\nM,12\n\n   \n,\nF,\"9,5\"\n", ',')

	header, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, []string{"sexo", "peso_kg"}, header)

	rec, line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"M", "12"}, rec)
	assert.Equal(t, 2, line)

	rec, line, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"", ""}, rec, "a row of empty cells is still a row")
	assert.Equal(t, 3, line)

	rec, line, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"F", "9,5"}, rec)
	assert.Equal(t, 4, line)

	_, _, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReader_NoHeader(t *testing.T) {
	_, err := NewReader("", ',').Header()
	assert.ErrorIs(t, err, domain.ErrNoHeader)

	_, err = NewReader(",,\n1,2,3\n", ',').Header()
	assert.ErrorIs(t, err, domain.ErrNoHeader)
}
