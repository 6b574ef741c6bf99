// Package testutil provides testing utilities for the array packages.
//
// This package is intended for use in tests and benchmarks only. It
// provides a seeded, thread-safe random number generator for reproducible
// coordinates, timestamps and fragment write orders.
//
//	rng := testutil.NewRNG(42)
//	for _, i := range rng.Perm(nfrags) {
//	    writeFragment(i)
//	}
package testutil
