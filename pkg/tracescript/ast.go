package tracescript

import "github.com/alecthomas/participle/v2/lexer"

// Script is a parsed trace description.
type Script struct {
	Statements []*Statement `@@*`
}

// Statement is one line of a script.
// Example: nand cmd 0x90
type Statement struct {
	Pos lexer.Position

	At       *string    `  "at" @Duration`
	Step     *string    `| "step" @Duration`
	Wait     *string    `| "wait" @Duration`
	Hello    *Value     `| "hello" @@`
	Reset    *Value     `| "reset" @@`
	Nand     *Nand      `| "nand" @@`
	Drain    *string    `| "drain" @( "start" | "stop" )`
	Net      *Net       `| "net" @@`
	Sd       *Sd        `| "sd" @@`
	Error    *ErrorStmt `| "error" @@`
	Overflow bool       `| @"overflow"`
}

// Value is an integer literal, decimal or 0x-prefixed hex.
type Value struct {
	Pos  lexer.Position
	Text string `@( Hex | Number )`
}

// Nand emits one bus cycle per byte.
// Example: nand read 0x98 0xDE ctrl=0x28
type Nand struct {
	Role  string   `@( "cmd" | "addr" | "read" | "write" | "raw" )`
	Bytes []*Value `@@ ( ","? @@ )*`
	Ctrl  *Value   `( "ctrl" "=" @@ )?`
}

// Net is a host command bracket.
// Example: net start "ib" 0xFFFFFFFF
type Net struct {
	Mark string `@( "start" | "stop" )`
	Cmd  string `@String`
	Arg  *Value `@@?`
}

// Sd is one piece of SD card traffic.
type Sd struct {
	Arg  *SdArg   `  "arg" @@`
	Resp *Value   `| "resp" @@`
	Data []*Value `| "data" @@ ( ","? @@ )*`
}

// SdArg latches one command byte into an SD register.
type SdArg struct {
	Reg *Value `@@`
	Val *Value `@@`
}

// ErrorStmt is an error record reported by the sniffer.
// Example: error 3 1 "buffer overflow"
type ErrorStmt struct {
	Subsystem *Value  `@@`
	Code      *Value  `@@`
	Message   *string `@String?`
}
