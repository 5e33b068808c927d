package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"5 lakhs", 500000, true},
		{"I need 2.5 lakh please", 250000, true},
		{"1 Lakh", 100000, true},
		{"500000", 500000, true},
		{"₹5,00,000", 500000, true},
		{"around 75000 rupees", 75000, true},
		{"10000", 0, false},
		{"50 lakhs", 0, false},
		{"45,00,000", 0, false},
		{"a lot of money", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Amount(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountLakhNotationCoversRange(t *testing.T) {
	for lakhs := 1; lakhs <= 40; lakhs++ {
		got, ok := Amount(fmt.Sprintf("%d lakhs", lakhs))
		require.True(t, ok, "lakhs=%d", lakhs)
		assert.Equal(t, lakhs*100000, got)
	}
}

func TestTenure(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"2 years", 24, true},
		{"1 year", 12, true},
		{"3 yrs", 36, true},
		{"1.5 years", 18, true},
		{"18 months", 18, true},
		{"36", 36, true},
		{"10 years", 0, false},
		{"6 months", 0, false},
		{"6", 0, false},
		{"as long as possible", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Tenure(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTenureYearsCoverRange(t *testing.T) {
	for months := MinTenureMonths; months <= MaxTenureMonths; months += 12 {
		got, ok := Tenure(fmt.Sprintf("%d years", months/12))
		require.True(t, ok, "months=%d", months)
		assert.Equal(t, months, got)
	}
}

func TestPhone(t *testing.T) {
	got, ok := Phone("9876543210")
	require.True(t, ok)
	assert.Equal(t, "9876543210", got)

	got, ok = Phone("9876543211 (Demo - Salary Required)")
	require.True(t, ok)
	assert.Equal(t, "9876543211", got)

	_, ok = Phone("98765")
	assert.False(t, ok)

	_, ok = Phone("919876543210")
	assert.False(t, ok, "a longer digit run is not a phone number")
}

func TestName(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"I'm Rahul", "Rahul", true},
		{"my name is priya patel", "Priya", true},
		{"Hi, I am amit", "Amit", true},
		{"call me Vik", "Vik", true},
		{"Sneha here", "Sneha", true},
		{"this is kavya", "Kavya", true},
		{"Deepika", "Deepika", true},
		{"I am interested, Rajesh", "Rajesh", true},
		{"skip", "", false},
		{"Skip name", "", false},
		{"ok", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Name(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchOTP(t *testing.T) {
	assert.True(t, MatchOTP(" 4821 ", "4821"))
	assert.True(t, MatchOTP("4821\n", "4821"))
	assert.False(t, MatchOTP("4820", "4821"))
	assert.False(t, MatchOTP("", ""))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("No, update details", "no"))
	assert.False(t, ContainsAny("I know it", "no"))
	assert.True(t, ContainsAny("Is it 15%?", "%"))
	assert.True(t, ContainsAny("Good Morning!", "good morning"))
	assert.False(t, ContainsAny("this one", "hi"))
	assert.True(t, ContainsAny("hi there", "hello", "hi"))
	assert.False(t, ContainsAny("anything", ""))
}
