//go:build !real_waku

package bus

func newWakuBackend() wakuBackend { return nil }
