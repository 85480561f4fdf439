/*

Process of compilation

IR Module (ir) ->
	optimize (opt: fold, dce, strength) ->
IR Module (ir) ->
	lower ->
Code Builder (asm, amd64) ->
	finalize ->
Code Builder with Relocations (asm) ->
	write ->
Relocatable Object (obj, ELF64) ->
	link (external) ->
Binary Executable

The front-end producing IR modules is external.
Modules are exchanged as msgpack files (ir.EncodeModule, ir.DecodeModule).

*/
package compiler
