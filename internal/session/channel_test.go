// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package session

import "testing"

func TestChannelMembershipCaseInsensitive(t *testing.T) {
	c := newChannel("#chan")
	c.AddMember("Bob")

	if !c.HasMember("bob") {
		t.Fatalf("expected case-insensitive membership match")
	}
	if !c.HasMember("BOB") {
		t.Fatalf("expected case-insensitive membership match")
	}
}

func TestChannelAddMemberReplacesCaseVariant(t *testing.T) {
	c := newChannel("#chan")
	c.AddMember("Bob")
	c.AddMember("BOB")

	members := c.Members()
	if len(members) != 1 {
		t.Fatalf("expected a single member slot after case-variant re-add, got %v", members)
	}
	if members[0] != "BOB" {
		t.Fatalf("expected latest display case BOB, got %q", members[0])
	}
}

func TestChannelRemoveMember(t *testing.T) {
	c := newChannel("#chan")
	c.AddMember("bob")
	c.RemoveMember("BOB")

	if c.HasMember("bob") {
		t.Fatalf("expected member removed despite case difference")
	}
}

func TestChannelRenameMemberPreservesSlot(t *testing.T) {
	c := newChannel("#chan")
	c.AddMember("bob")

	c.RenameMember("bob", "bobby")

	if c.HasMember("bob") {
		t.Fatalf("expected old nick gone after rename")
	}
	if !c.HasMember("bobby") {
		t.Fatalf("expected new nick present after rename")
	}
}

func TestChannelTopicLifecycle(t *testing.T) {
	c := newChannel("#chan")
	if c.HasTopic() {
		t.Fatalf("expected no topic initially")
	}

	c.SetTopic("welcome")
	if !c.HasTopic() || c.Topic == nil || *c.Topic != "welcome" {
		t.Fatalf("expected topic set to welcome, got %+v", c.Topic)
	}

	c.ClearTopic()
	if c.HasTopic() || c.Topic != nil {
		t.Fatalf("expected topic cleared")
	}
}

func TestChannelNamesBurstClearsPriorMembers(t *testing.T) {
	c := newChannel("#chan")
	c.AddMember("stale")

	c.addNamesReply([]string{"bob", "alice"})
	names := c.endNamesReply()

	if c.HasMember("stale") {
		t.Fatalf("expected NAMES burst to clear prior membership")
	}
	if !c.HasMember("bob") || !c.HasMember("alice") {
		t.Fatalf("expected bob and alice as members after burst")
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 accumulated names, got %v", names)
	}
}

func TestChannelNamesBurstAccumulatesAcrossMultiple353(t *testing.T) {
	c := newChannel("#chan")
	c.addNamesReply([]string{"bob"})
	c.addNamesReply([]string{"alice"})
	names := c.endNamesReply()

	if len(names) != 2 {
		t.Fatalf("expected accumulated names across multiple 353 lines, got %v", names)
	}
}
