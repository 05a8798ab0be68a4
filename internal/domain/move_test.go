package domain

import "testing"

func TestGTPColumnAlphabet(t *testing.T) {
	want := "abcdefghjklmnopqrstuvwxyz"
	for i := 0; i < 19; i++ {
		c, err := GTPColumn(i)
		if err != nil {
			t.Fatalf("GTPColumn(%d): %v", i, err)
		}
		if c != want[i] {
			t.Errorf("GTPColumn(%d) = %c, want %c", i, c, want[i])
		}
		if c == 'i' {
			t.Errorf("GTPColumn(%d) produced the forbidden letter i", i)
		}
		back, err := GTPColumnIndex(c)
		if err != nil {
			t.Fatalf("GTPColumnIndex(%c): %v", c, err)
		}
		if back != i {
			t.Errorf("GTPColumnIndex(GTPColumn(%d)) = %d", i, back)
		}
	}
	if _, err := GTPColumnIndex('i'); err == nil {
		t.Error("GTPColumnIndex('i') should fail")
	}
}

func TestMoveRoundTrip(t *testing.T) {
	const height = 19
	for x := 0; x < height; x++ {
		for y := 0; y < height; y++ {
			m := Move{X: x, Y: y}
			vertex, err := m.ToGTP(height)
			if err != nil {
				t.Fatalf("ToGTP(%v): %v", m, err)
			}
			back, resign, err := MoveFromGTP(vertex, height)
			if err != nil || resign {
				t.Fatalf("MoveFromGTP(%q): %v resign=%v", vertex, err, resign)
			}
			if back != m {
				t.Errorf("round trip %v -> %q -> %v", m, vertex, back)
			}
		}
	}
}

func TestMoveKnownVertices(t *testing.T) {
	tests := []struct {
		move   Move
		height int
		want   string
	}{
		{Move{X: 0, Y: 18}, 19, "a1"},
		{Move{X: 0, Y: 0}, 19, "a19"},
		{Move{X: 18, Y: 18}, 19, "t1"},
		{Move{X: 8, Y: 9}, 19, "j10"},
		{Move{X: 3, Y: 3}, 9, "d6"},
	}
	for _, tt := range tests {
		got, err := tt.move.ToGTP(tt.height)
		if err != nil {
			t.Fatalf("ToGTP(%v): %v", tt.move, err)
		}
		if got != tt.want {
			t.Errorf("ToGTP(%v, %d) = %q, want %q", tt.move, tt.height, got, tt.want)
		}
	}
}

func TestPass(t *testing.T) {
	vertex, err := Pass().ToGTP(19)
	if err != nil || vertex != "pass" {
		t.Fatalf("Pass().ToGTP = %q, %v", vertex, err)
	}
	m, resign, err := MoveFromGTP("pass", 19)
	if err != nil || resign || !m.IsPass() {
		t.Fatalf("MoveFromGTP(pass) = %v resign=%v err=%v", m, resign, err)
	}
}

func TestResign(t *testing.T) {
	_, resign, err := MoveFromGTP("resign", 19)
	if err != nil || !resign {
		t.Fatalf("MoveFromGTP(resign) resign=%v err=%v", resign, err)
	}
}

func TestMalformedVertices(t *testing.T) {
	for _, v := range []string{"", "a", "i5", "a0", "a20", "zz", "5a"} {
		if _, _, err := MoveFromGTP(v, 19); err == nil {
			t.Errorf("MoveFromGTP(%q) should fail", v)
		}
	}
}
