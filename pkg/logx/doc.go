// Package logx is cronjobs' structured logging: a small value-type Logger
// over zerolog that every component receives at construction.
//
// Console output is human-readable with a short caller; the optional file
// sink is JSON. Service.Apply swaps sinks and level on config reload.
package logx
