// Package graphfile loads a dataflow graph definition written in HCL, from a
// single file or from every .hcl file in a directory.
//
// A file declares source tensors, operator invocations and, optionally, the
// engine settings used to run them:
//
//	engine {
//	  workers      = 4
//	  read_timeout = "5s"
//	}
//
//	tensor "a" {
//	  shape             = [10]
//	  fill              = 2
//	  requires_gradient = true
//	}
//
//	op "cadd" "c" {
//	  inputs        = [tensor.a, tensor.a]
//	  allow_inplace = [false, false]
//	  alpha         = 1
//	}
//
// Operator inputs are references of the form tensor.<name> or op.<name>,
// where op.<name>[i] selects output i of a multi-output operator. Every other
// attribute of an op block is passed to the operator factory as a cty value.
package graphfile
