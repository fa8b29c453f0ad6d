package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestFlags(t *testing.T) {
	var rf RFlags
	rf.set(InterruptFlag)
	if !rf.isEnable(InterruptFlag) {
		t.Fatalf("IF = %v\n", rf.isEnable(InterruptFlag))
	}
	rf.unset(InterruptFlag)
	if rf.isEnable(InterruptFlag) {
		t.Fatalf("IF = %v after cli\n", rf.isEnable(InterruptFlag))
	}
	rf.setVal(ZeroFlag, true)
	rf.setVal(CarryFlag, false)
	if !rf.isEnable(ZeroFlag) || rf.isEnable(CarryFlag) {
		t.Fatalf("ZF=%v CF=%v\n", rf.isEnable(ZeroFlag), rf.isEnable(CarryFlag))
	}
}

func TestFlagsDump(t *testing.T) {
	var rf RFlags
	rf.set(InterruptFlag)
	rf.set(ZeroFlag)
	var buf bytes.Buffer
	rf.dump(&buf)
	if !strings.Contains(buf.String(), "IF") || !strings.Contains(buf.String(), "ZF") {
		t.Fatalf("Bad dump: %q\n", buf.String())
	}
}
