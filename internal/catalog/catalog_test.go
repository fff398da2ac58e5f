package catalog

import "testing"

func TestNewDefaultBuildsWithoutPanic(t *testing.T) {
	c := NewDefault()
	if len(c.List()) != len(Default) {
		t.Fatalf("expected %d entries, got %d", len(Default), len(c.List()))
	}
}

func TestLookup(t *testing.T) {
	c := NewDefault()
	d, ok := c.Lookup("DDE")
	if !ok {
		t.Fatal("expected DDE to be found")
	}
	if d.KLineAddr == nil || *d.KLineAddr != 0x12 {
		t.Fatalf("unexpected k-line addr: %+v", d.KLineAddr)
	}
	if !d.Transports.Supports(TransportKLine) || !d.Transports.Supports(TransportDCan) {
		t.Fatal("expected DDE to support both transports")
	}

	if _, ok := c.Lookup("NOPE"); ok {
		t.Fatal("expected lookup miss for unknown ecu")
	}
}

func TestNewRejectsNoTransport(t *testing.T) {
	_, err := New([]EcuDescriptor{{ID: "X"}})
	if err == nil {
		t.Fatal("expected error for ecu with no transport")
	}
}

func TestNewRejectsMissingAddressForTransport(t *testing.T) {
	_, err := New([]EcuDescriptor{{ID: "X", Transports: TransportKLine}})
	if err == nil {
		t.Fatal("expected error for K-Line ecu missing k_line_addr")
	}

	_, err = New([]EcuDescriptor{{ID: "Y", Transports: TransportDCan, CanTxID: u(1)}})
	if err == nil {
		t.Fatal("expected error for D-CAN ecu missing can_rx_id")
	}
}

func TestNewRejectsDuplicateID(t *testing.T) {
	addr := byte(1)
	rows := []EcuDescriptor{
		{ID: "X", Transports: TransportKLine, KLineAddr: &addr},
		{ID: "X", Transports: TransportKLine, KLineAddr: &addr},
	}
	if _, err := New(rows); err == nil {
		t.Fatal("expected error for duplicate ecu id")
	}
}
