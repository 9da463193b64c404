package tracescript

import (
	"fmt"
	"strconv"
	"time"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

var nandRoles = map[string]nand.Control{
	"cmd":   CommandLines,
	"addr":  AddressLines,
	"write": WriteLines,
	"read":  ReadLines,
	"raw":   0,
}

// Compile evaluates s into a Builder.
func Compile(s *Script) (*Builder, error) {
	b := NewBuilder()
	for _, st := range s.Statements {
		if err := compileStatement(b, st); err != nil {
			return nil, fmt.Errorf("tracescript: %s: %w", st.Pos, err)
		}
	}
	return b, nil
}

func compileStatement(b *Builder, st *Statement) error {
	switch {
	case st.At != nil:
		d, err := time.ParseDuration(*st.At)
		if err != nil {
			return err
		}
		b.At(d)
	case st.Step != nil:
		d, err := time.ParseDuration(*st.Step)
		if err != nil {
			return err
		}
		b.Step(d)
	case st.Wait != nil:
		d, err := time.ParseDuration(*st.Wait)
		if err != nil {
			return err
		}
		b.Wait(d)
	case st.Hello != nil:
		v, err := st.Hello.parse(8)
		if err != nil {
			return err
		}
		b.Hello(uint8(v))
	case st.Reset != nil:
		v, err := st.Reset.parse(8)
		if err != nil {
			return err
		}
		b.Reset(uint8(v))
	case st.Nand != nil:
		return compileNand(b, st.Nand)
	case st.Drain != nil:
		if *st.Drain == "start" {
			b.DrainStart()
		} else {
			b.DrainStop()
		}
	case st.Net != nil:
		return compileNet(b, st.Net)
	case st.Sd != nil:
		return compileSd(b, st.Sd)
	case st.Error != nil:
		sub, err := st.Error.Subsystem.parse(8)
		if err != nil {
			return err
		}
		code, err := st.Error.Code.parse(8)
		if err != nil {
			return err
		}
		e := capture.ErrorReport{Subsystem: uint8(sub), Code: uint8(code)}
		if st.Error.Message != nil {
			e.Message = *st.Error.Message
		}
		b.Error(e)
	case st.Overflow:
		b.Overflow()
	}
	return nil
}

func compileNand(b *Builder, n *Nand) error {
	ctrl := nandRoles[n.Role]
	if n.Ctrl != nil {
		v, err := n.Ctrl.parse(8)
		if err != nil {
			return err
		}
		ctrl = nand.Control(v)
	}
	data, err := bytesOf(n.Bytes)
	if err != nil {
		return err
	}
	b.Cycles(ctrl, data...)
	return nil
}

func compileNet(b *Builder, n *Net) error {
	if len(n.Cmd) != 2 {
		return fmt.Errorf("command %q must be two characters", n.Cmd)
	}
	var cmd [2]byte
	copy(cmd[:], n.Cmd)
	var arg uint64
	if n.Arg != nil {
		v, err := n.Arg.parse(32)
		if err != nil {
			return err
		}
		arg = v
	}
	mark := capture.Start
	if n.Mark == "stop" {
		mark = capture.Stop
	}
	b.Net(mark, cmd, uint32(arg))
	return nil
}

func compileSd(b *Builder, s *Sd) error {
	switch {
	case s.Arg != nil:
		reg, err := s.Arg.Reg.parse(8)
		if err != nil {
			return err
		}
		val, err := s.Arg.Val.parse(8)
		if err != nil {
			return err
		}
		b.SdArg(uint8(reg), uint8(val))
	case s.Resp != nil:
		v, err := s.Resp.parse(8)
		if err != nil {
			return err
		}
		b.SdResponse(byte(v))
	default:
		data, err := bytesOf(s.Data)
		if err != nil {
			return err
		}
		if len(data) > capture.SectorSize {
			return fmt.Errorf("sd data of %d bytes exceeds a sector", len(data))
		}
		b.SdData(data)
	}
	return nil
}

func bytesOf(vals []*Value) ([]byte, error) {
	out := make([]byte, 0, len(vals))
	for _, v := range vals {
		n, err := v.parse(8)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(n))
	}
	return out, nil
}

func (v *Value) parse(bits int) (uint64, error) {
	n, err := strconv.ParseUint(v.Text, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("value %s does not fit in %d bits", v.Text, bits)
	}
	return n, nil
}
