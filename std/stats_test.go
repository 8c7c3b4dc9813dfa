package std

import "testing"

func TestStatsIncrementsAreIndependent(t *testing.T) {
	s := &Stats{}
	s.IncSendOK()
	s.IncSendOK()
	s.IncSendErr()
	s.IncRecvTimeout()
	s.IncDropOverflow()
	s.IncDropOverflow()
	s.IncDropOverflow()

	got := s.ToSlice()
	want := []string{"2", "1", "0", "1", "0", "0", "3"}
	if len(got) != len(want) {
		t.Fatalf("ToSlice len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ToSlice[%d] = %q, want %q (header %q)", i, got[i], want[i], s.Header()[i])
		}
	}
}

func TestStatsHeaderMatchesToSliceLength(t *testing.T) {
	s := &Stats{}
	if len(s.Header()) != len(s.ToSlice()) {
		t.Fatalf("Header has %d columns, ToSlice has %d", len(s.Header()), len(s.ToSlice()))
	}
}
