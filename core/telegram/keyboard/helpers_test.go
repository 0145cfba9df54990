package keyboard

import "testing"

func TestInlineButtonsRows(t *testing.T) {
	markup := InlineButtonsRows(
		[]InlineBtn{{Text: "Добавить в корзину", URL: "https://shop.example/p/1"}},
		nil,
		[]InlineBtn{{Text: "Закончить", Unique: "end_dialog", Data: "42"}, {Text: "Заблокировать", Unique: "block_user", Data: "42"}},
	)
	if markup == nil || len(markup.InlineKeyboard) != 2 {
		t.Fatalf("expected two rows, got %+v", markup)
	}
	link := markup.InlineKeyboard[0][0]
	if link.URL != "https://shop.example/p/1" || link.Data != "" {
		t.Fatalf("unexpected link button %+v", link)
	}
	end := markup.InlineKeyboard[1][0]
	if end.Unique != "end_dialog" || end.Data != "42" {
		t.Fatalf("unexpected data button %+v", end)
	}
	if len(markup.InlineKeyboard[1]) != 2 {
		t.Fatalf("expected two buttons in second row")
	}
}

func TestInlineButtonsEmpty(t *testing.T) {
	if InlineButtons(nil) != nil {
		t.Fatal("expected nil markup for no buttons")
	}
}
