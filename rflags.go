package main

import (
	"io"

	"github.com/fatih/color"
)

// RFlags is the x86-64 flags register
type RFlags uint64

// rflags
const (
	CarryFlag     = uint64(1) << 0
	ReservedFlag  = uint64(1) << 1 // always set
	ParityFlag    = uint64(1) << 2
	AdjustFlag    = uint64(1) << 4
	ZeroFlag      = uint64(1) << 6
	SignFlag      = uint64(1) << 7
	TrapFlag      = uint64(1) << 8
	InterruptFlag = uint64(1) << 9
	DirectionFlag = uint64(1) << 10
	OverflowFlag  = uint64(1) << 11
)

func (rf *RFlags) setVal(flag uint64, value bool) {
	if value {
		rf.set(flag)
	} else {
		rf.unset(flag)
	}
}

func (rf *RFlags) set(flag uint64) {
	*rf = RFlags(uint64(*rf) | flag)
}

func (rf *RFlags) unset(flag uint64) {
	*rf = RFlags(uint64(*rf) & ^flag)
}

func (rf *RFlags) isEnable(flag uint64) bool {
	return uint64(*rf)&flag == flag
}

func (rf *RFlags) dump(w io.Writer) {
	s := "RFLAGS="
	if rf.isEnable(CarryFlag) {
		s += "CF "
	}
	if rf.isEnable(ParityFlag) {
		s += "PF "
	}
	if rf.isEnable(AdjustFlag) {
		s += "AF "
	}
	if rf.isEnable(ZeroFlag) {
		s += "ZF "
	}
	if rf.isEnable(SignFlag) {
		s += "SF "
	}
	if rf.isEnable(TrapFlag) {
		s += "TF "
	}
	if rf.isEnable(InterruptFlag) {
		s += "IF "
	}
	if rf.isEnable(DirectionFlag) {
		s += "DF "
	}
	if rf.isEnable(OverflowFlag) {
		s += "OF "
	}
	s += "\n"
	color.New(color.FgCyan).Fprint(w, s)
}
