package twamm

import (
	"twamm_go/pkg/fixed"
)

var (
	two = fixed.FromInt(2)

	// Above this exponent argument (e+c)/(e-c) is within 10^-18 of 1.
	expSaturation = fixed.FromInt(42)
)

// VirtualBalances is the outcome of one settlement step.
type VirtualBalances struct {
	Out0 fixed.Fixed // token0 paid out to token1 sellers
	Out1 fixed.Fixed // token1 paid out to token0 sellers
	End0 fixed.Fixed // token0 reserve after the step
	End1 fixed.Fixed // token1 reserve after the step
}

// calc carries the first arithmetic error through a formula.
type calc struct {
	err error
}

func (c *calc) op(f func(fixed.Fixed) (fixed.Fixed, error), b fixed.Fixed) fixed.Fixed {
	if c.err != nil {
		return fixed.Zero
	}
	v, err := f(b)
	c.err = err
	return v
}

func (c *calc) add(a, b fixed.Fixed) fixed.Fixed { return c.op(a.Add, b) }
func (c *calc) sub(a, b fixed.Fixed) fixed.Fixed { return c.op(a.Sub, b) }
func (c *calc) mul(a, b fixed.Fixed) fixed.Fixed { return c.op(a.Mul, b) }
func (c *calc) div(a, b fixed.Fixed) fixed.Fixed { return c.op(a.Div, b) }

func (c *calc) sqrt(a fixed.Fixed) fixed.Fixed {
	if c.err != nil {
		return fixed.Zero
	}
	v, err := a.Sqrt()
	c.err = err
	return v
}

func (c *calc) exp(a fixed.Fixed) fixed.Fixed {
	if c.err != nil {
		return fixed.Zero
	}
	v, err := a.Exp()
	c.err = err
	return v
}

// ComputeVirtualBalances settles x0 of token0 and x1 of token1 sold at a
// constant rate over one step into a constant-product pool holding r0 and r1.
func ComputeVirtualBalances(r0, r1, x0, x1 fixed.Fixed) (VirtualBalances, error) {
	var c calc
	var vb VirtualBalances

	switch {
	case x0.IsZero() && x1.IsZero():
		vb.End0, vb.End1 = r0, r1

	case r0.IsZero() || r1.IsZero():
		// Nothing to buy from an empty pool; sells are absorbed.
		vb.End0 = c.add(r0, x0)
		vb.End1 = c.add(r1, x1)

	case x1.IsZero():
		vb.Out1 = c.div(c.mul(r1, x0), c.add(r0, x0))
		vb.End0 = c.add(r0, x0)
		vb.End1 = c.sub(r1, vb.Out1)

	case x0.IsZero():
		vb.Out0 = c.div(c.mul(r0, x1), c.add(r1, x1))
		vb.End1 = c.add(r1, x1)
		vb.End0 = c.sub(r0, vb.Out0)

	default:
		k := c.mul(r0, r1)
		sr0, sr1 := c.sqrt(r0), c.sqrt(r1)
		sx0, sx1 := c.sqrt(x0), c.sqrt(x1)

		c1 := c.mul(sr0, sx1)
		c2 := c.mul(sr1, sx0)
		cc := c.div(c.sub(c1, c2), c.add(c1, c2))

		// 2*sqrt(x0*x1/(r0*r1))
		arg := c.div(c.mul(two, c.sqrt(c.mul(x0, x1))), c.mul(sr0, sr1))
		fraction := fixed.One
		if c.err == nil && !arg.GreaterThan(expSaturation) {
			e := c.exp(arg)
			fraction = c.div(c.add(e, cc), c.sub(e, cc))
		}

		// sqrt(k*x0/x1) is the end reserve once both flows balance.
		scaling := c.mul(c.sqrt(c.div(k, x1)), sx0)
		vb.End0 = c.mul(fraction, scaling)
		vb.End1 = c.div(k, vb.End0)
		vb.Out0 = c.sub(c.add(r0, x0), vb.End0)
		vb.Out1 = c.sub(c.add(r1, x1), vb.End1)

		// Rounding can push one side's output below zero. Clamp it and
		// rebuild the other side from k so the pair stays on the curve.
		if c.err == nil && vb.Out0.IsNegative() {
			vb.Out0 = fixed.Zero
			vb.End0 = c.add(r0, x0)
			vb.End1 = c.div(k, vb.End0)
			vb.Out1 = c.sub(c.add(r1, x1), vb.End1)
		} else if c.err == nil && vb.Out1.IsNegative() {
			vb.Out1 = fixed.Zero
			vb.End1 = c.add(r1, x1)
			vb.End0 = c.div(k, vb.End1)
			vb.Out0 = c.sub(c.add(r0, x0), vb.End0)
		}
	}

	if c.err != nil {
		return VirtualBalances{}, c.err
	}
	return vb, nil
}
