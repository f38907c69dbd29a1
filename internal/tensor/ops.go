package tensor

import "fmt"

// CAdd computes dst = a + alpha*b elementwise. dst may alias a or b, which is
// how in-place variants are expressed. All three tensors must share dtype and
// shape.
func CAdd(dst, a *Tensor, alpha float64, b *Tensor) error {
	if err := sameMeta(a, b); err != nil {
		return err
	}
	if err := sameMeta(dst, a); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	for i := range dst.data {
		dst.data[i] = dst.round(a.data[i] + alpha*b.data[i])
	}
	return nil
}

func sameMeta(a, b *Tensor) error {
	if a.dtype != b.dtype {
		return fmt.Errorf("dtype mismatch: %s vs %s", a.dtype, b.dtype)
	}
	if !a.shape.Equal(b.shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", a.shape, b.shape)
	}
	return nil
}
