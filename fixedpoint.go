package main

// FP is a 17.14 fixed-point number: 17 integer bits, 14 fraction
// bits, one sign bit. The MLFQS formulas are specified over real
// numbers; this is the integer encoding they actually run on.
type FP int32

const fpShift = 14
const fpF = 1 << fpShift

func toFP(n int) FP {
	return FP(n * fpF)
}

// fpToInt truncates toward zero.
func fpToInt(x FP) int {
	return int(x / fpF)
}

// fpToIntNearest rounds to the nearest integer, ties away from zero.
func fpToIntNearest(x FP) int {
	if x >= 0 {
		return int((x + fpF/2) / fpF)
	}
	return int((x - fpF/2) / fpF)
}

func fpAdd(x, y FP) FP { return x + y }

func fpSub(x, y FP) FP { return x - y }

func fpAddInt(x FP, n int) FP { return x + toFP(n) }

func fpSubInt(x FP, n int) FP { return x - toFP(n) }

// fpMul multiplies two fixed-point values. The product is computed
// in 64 bits so the intermediate cannot overflow.
func fpMul(x, y FP) FP {
	return FP(int64(x) * int64(y) / fpF)
}

func fpMulInt(x FP, n int) FP { return x * FP(n) }

// fpDiv divides two fixed-point values, widening the dividend first.
func fpDiv(x, y FP) FP {
	return FP(int64(x) * fpF / int64(y))
}

func fpDivInt(x FP, n int) FP { return x / FP(n) }
