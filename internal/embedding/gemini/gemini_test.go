package gemini_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"edurag/internal/embedding/gemini"
)

type fakeClient struct {
	dims []int
	err  error
	out  [][]float64
}

func (f *fakeClient) GenerateEmbedding(_ context.Context, dimension int, input []string) ([][]float64, error) {
	f.dims = append(f.dims, dimension)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	out := make([][]float64, len(input))
	for i := range input {
		out[i] = make([]float64, dimension)
		out[i][0] = 0.5
	}
	return out, nil
}

func TestEmbedConvertsToFloat32(t *testing.T) {
	client := &fakeClient{}
	e := gemini.New(client, 4)

	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	gt.NoError(t, err).Required()
	gt.Array(t, vectors).Length(2)
	gt.Value(t, vectors[1]).Equal([]float32{0.5, 0, 0, 0})
	gt.Value(t, client.dims).Equal([]int{4})
}

func TestEmbedErrors(t *testing.T) {
	_, err := gemini.New(&fakeClient{err: errors.New("quota")}, 4).Embed(context.Background(), []string{"a"})
	gt.Error(t, err)

	_, err = gemini.New(&fakeClient{out: [][]float64{}}, 4).Embed(context.Background(), []string{"a"})
	gt.Error(t, err)
}
