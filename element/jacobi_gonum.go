//go:build !gocfd

package element

var gaussJacobi = golubWelsch
