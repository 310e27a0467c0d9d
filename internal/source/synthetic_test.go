package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyntheticReaderFactoryDefaultsDimensions(t *testing.T) {
	f := SyntheticReaderFactory{}
	r, err := f.Open(context.Background(), KindFile, "unused")
	require.NoError(t, err)
	defer r.Close()

	w, h, pixels, err := r.ReadFrame(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)
	require.Len(t, pixels, 1280*720)
}

func TestSyntheticReaderFactoryHonorsConfiguredDimensions(t *testing.T) {
	f := SyntheticReaderFactory{Width: 8, Height: 4}
	r, err := f.Open(context.Background(), KindDevice, "unused")
	require.NoError(t, err)
	defer r.Close()

	w, h, pixels, err := r.ReadFrame(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8, w)
	require.Equal(t, 4, h)
	require.Len(t, pixels, 32)
}

func TestSyntheticReaderFramesVaryOverTime(t *testing.T) {
	f := SyntheticReaderFactory{Width: 2, Height: 2}
	r, err := f.Open(context.Background(), KindFile, "unused")
	require.NoError(t, err)
	defer r.Close()

	_, _, first, err := r.ReadFrame(context.Background())
	require.NoError(t, err)
	_, _, second, err := r.ReadFrame(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first[0], second[0])
}

func TestSyntheticReaderRespectsCancelledContext(t *testing.T) {
	f := SyntheticReaderFactory{}
	r, err := f.Open(context.Background(), KindFile, "unused")
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err = r.ReadFrame(ctx)
	require.Error(t, err)
}
