package queue

import "testing"

func TestMarshalUnmarshal(t *testing.T) {
	j := NewJob("TestJob", "default", []byte(`{"user_id":42}`), []string{"tag1"})
	s, err := j.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	j2, err := UnmarshalJob(s)
	if err != nil {
		t.Fatal(err)
	}
	if j2.ID != j.ID || j2.Name != j.Name || j2.Queue != j.Queue {
		t.Fatalf("roundtrip mismatch: %#v vs %#v", j, j2)
	}
	if string(j2.Data) != string(j.Data) {
		t.Fatalf("data mismatch: %s vs %s", j2.Data, j.Data)
	}
}

func TestMatchesTags(t *testing.T) {
	untagged := Job{}
	tagged := Job{Tags: []string{"tag1", "common"}}

	if !untagged.MatchesTags(nil) {
		t.Fatal("untagged job should match an untagged worker")
	}
	if untagged.MatchesTags([]string{"tag1"}) {
		t.Fatal("untagged job should not match a tagged worker")
	}
	if tagged.MatchesTags(nil) {
		t.Fatal("tagged job should not match an untagged worker")
	}
	if !tagged.MatchesTags([]string{"tag1"}) {
		t.Fatal("tagged job should match a worker sharing a tag")
	}
	if tagged.MatchesTags([]string{"tag3"}) {
		t.Fatal("tagged job should not match a worker with no shared tags")
	}
}

func TestUnionQueues(t *testing.T) {
	got := UnionQueues([]string{"reports", "default"})
	want := []string{"default", "mailer", "reports"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
