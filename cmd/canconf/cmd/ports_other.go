//go:build !linux

package cmd

func printCANInterfaces() {}
